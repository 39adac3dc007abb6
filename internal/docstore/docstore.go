// Package docstore хранит истории и журнал монет в Cloud Firestore.
package docstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Коллекции Firestore
const (
	storiesCollection      = "stories"
	stepsCollection        = "steps"
	accountsCollection     = "coin_accounts"
	transactionsCollection = "coin_transactions"
	referencesCollection   = "coin_references"
)

// NewClient открывает Firestore клиент приложения Firebase.
func NewClient(ctx context.Context, app *firebase.App) (*firestore.Client, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения Firestore client: %w", err)
	}
	return client, nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}
