package testing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunAccountTests(t *testing.T) {
	t.Run("CreateAccount_Duplicate", suite.TestCreateAccount_Duplicate)
	t.Run("CreateAccount_InvalidName", suite.TestCreateAccount_InvalidName)
	t.Run("RoleLimits", suite.TestRoleLimits)
}

func (suite *StoreTestSuite) TestCreateAccount_Duplicate(t *testing.T) {
	store := suite.newStore(t)
	acct := &metadata.Account{Username: "alice", Role: "common", RootID: uuid.New(), RecycleRootID: uuid.New()}

	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.CreateAccount(acct)
	})
	require.NoError(t, err)

	err = store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.CreateAccount(acct)
	})
	requireCode(t, err, metadata.ErrAlreadyExists)

	view(t, store, func(tx metadata.Tx) error {
		got, err := tx.GetAccount("alice")
		require.NoError(t, err)
		assert.Equal(t, acct.RootID, got.RootID)

		all, err := tx.ListAccounts()
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = tx.GetAccount("nobody")
		requireCode(t, err, metadata.ErrNotFound)
		return nil
	})
}

func (suite *StoreTestSuite) TestCreateAccount_InvalidName(t *testing.T) {
	store := suite.newStore(t)
	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.CreateAccount(&metadata.Account{Username: "a:b"})
	})
	requireCode(t, err, metadata.ErrInvalidArgument)
}

func (suite *StoreTestSuite) TestRoleLimits(t *testing.T) {
	store := suite.newStore(t)

	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		if err := tx.PutRoleLimit("common", metadata.LimitStorage, 1<<30); err != nil {
			return err
		}
		if err := tx.PutRoleLimit("common", "share", 10); err != nil {
			return err
		}
		return tx.PutRoleLimit("vip", metadata.LimitStorage, 1<<40)
	})
	require.NoError(t, err)

	view(t, store, func(tx metadata.Tx) error {
		limits, err := tx.GetRoleLimits("common")
		require.NoError(t, err)
		assert.Equal(t, metadata.RoleLimits{metadata.LimitStorage: 1 << 30, "share": 10}, limits)

		empty, err := tx.GetRoleLimits("unknown")
		require.NoError(t, err)
		assert.Empty(t, empty)
		return nil
	})
}
