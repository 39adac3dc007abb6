package docstore

import (
	"context"
	"os"
	"testing"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStepDocConversion(t *testing.T) {
	idx := 1
	step := &models.Step{
		StoryID:           "s1",
		Index:             2,
		Text:              "Ворота замка",
		ParentChoiceIndex: &idx,
		ParentChoiceText:  "Войти",
		State:             &models.GameState{Health: 80, MaxHealth: 100, Scene: models.SceneExploration, Status: []string{"poisoned"}},
	}

	doc := stepToDoc(step, step.CreatedAt)
	assert.Equal(t, []string{}, doc.Choices)
	require.NotNil(t, doc.State)
	assert.Equal(t, 80, doc.State.Health)

	back := stepFromDoc("s1", "step-1", doc)
	assert.Equal(t, "step-1", back.ID)
	assert.Equal(t, step.Index, back.Index)
	assert.Equal(t, step.State, back.State)
	assert.Equal(t, 1, *back.ParentChoiceIndex)
}

// newEmulatorClient подключается к эмулятору Firestore, если он запущен.
func newEmulatorClient(t *testing.T) *firestore.Client {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST не задан")
	}
	client, err := firestore.NewClient(context.Background(), "rpg-novel-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStoryRepository_Emulator(t *testing.T) {
	client := newEmulatorClient(t)
	repo := NewStoryRepository(client, zap.NewNop())
	ctx := context.Background()

	story, err := repo.CreateStory(ctx, "owner-"+uuid.NewString(), "Pirates", "Captain")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := repo.AppendStep(ctx, &models.Step{StoryID: story.ID, Index: i, Text: "Scene", Choices: []string{"A", "B"}})
		require.NoError(t, err)
	}
	_, err = repo.AppendStep(ctx, &models.Step{StoryID: story.ID, Index: 2, Text: "dup"})
	assert.ErrorIs(t, err, models.ErrStepIndexConflict)

	recent, err := repo.RecentSteps(ctx, story.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 1, recent[0].Index)
	assert.Equal(t, 2, recent[1].Index)

	loaded, err := repo.GetStory(ctx, story.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.CurrentStepID)
	assert.Equal(t, recent[1].ID, *loaded.CurrentStepID)

	_, err = repo.GetStory(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCoinRepository_EmulatorReferenceUniqueness(t *testing.T) {
	client := newEmulatorClient(t)
	repo := NewCoinRepository(client, zap.NewNop())
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	ref := "sess_" + uuid.NewString()

	insert := func() error {
		return repo.RunInTx(ctx, user, func(ctx context.Context, tx interfaces.CoinTx) error {
			acc, err := tx.GetAccount(ctx)
			if err != nil {
				acc = &models.CoinAccount{UserID: user}
			}
			acc.Balance += 100
			acc.TotalEarned += 100
			if err := tx.PutAccount(ctx, acc); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, &models.CoinTransaction{
				ID: uuid.NewString(), UserID: user, Amount: 100, BalanceAfter: acc.Balance,
				Type: models.TransactionPurchase, ReferenceID: &ref,
			})
		})
	}

	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), models.ErrDuplicateReference)

	acc, err := repo.GetAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)

	txs, err := repo.ListTransactions(ctx, user, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
