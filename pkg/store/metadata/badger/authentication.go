package badger

import (
	"strings"

	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

func (t *badgerTx) GetAccount(username string) (*metadata.Account, error) {
	var acct metadata.Account
	if err := t.getJSON(keyAccount(username), "account", username, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (t *badgerTx) CreateAccount(acct *metadata.Account) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if acct.Username == "" || strings.Contains(acct.Username, ":") {
		return metadata.NewError(metadata.ErrInvalidArgument, "invalid username", acct.Username)
	}
	ok, err := t.exists(keyAccount(acct.Username))
	if err != nil {
		return err
	}
	if ok {
		return metadata.NewError(metadata.ErrAlreadyExists, "account already exists", acct.Username)
	}
	return t.setJSON(keyAccount(acct.Username), "account", acct)
}

func (t *badgerTx) ListAccounts() ([]*metadata.Account, error) {
	values, err := t.scanValues([]byte(prefixAccount))
	if err != nil {
		return nil, err
	}
	out := make([]*metadata.Account, 0, len(values))
	for _, val := range values {
		var acct metadata.Account
		if err := decodeJSON("account", val, &acct); err != nil {
			return nil, err
		}
		out = append(out, &acct)
	}
	return out, nil
}

func (t *badgerTx) GetRoleLimits(role string) (metadata.RoleLimits, error) {
	prefix := keyRoleLimitPrefix(role)
	suffixes, err := t.scanKeys(prefix)
	if err != nil {
		return nil, err
	}
	limits := make(metadata.RoleLimits, len(suffixes))
	for _, limit := range suffixes {
		val, ok, err := t.getValue(keyRoleLimit(role, limit))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := decodeInt64(val)
		if err != nil {
			return nil, err
		}
		limits[limit] = v
	}
	return limits, nil
}

func (t *badgerTx) PutRoleLimit(role, key string, value int64) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if role == "" || key == "" || strings.Contains(role, ":") {
		return metadata.NewError(metadata.ErrInvalidArgument, "invalid role limit", role+"/"+key)
	}
	return t.txn.Set(keyRoleLimit(role, key), encodeInt64(value))
}
