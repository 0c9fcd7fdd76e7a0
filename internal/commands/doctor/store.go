package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/hay-kot/sublet/internal/core/auth"
)

// TokenSource is the part of the token store inspected by StoreCheck.
type TokenSource interface {
	Path() string
	Load(ctx context.Context) (auth.NullToken, error)
}

// StoreCheck verifies the token store file can be read.
type StoreCheck struct {
	store TokenSource
}

// NewStoreCheck creates a new token store check.
func NewStoreCheck(store TokenSource) *StoreCheck {
	return &StoreCheck{store: store}
}

func (c *StoreCheck) Name() string {
	return "Token Store"
}

func (c *StoreCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}
	path := c.store.Path()
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		result.add(StatusPass, "Data directory", "created on first login")
	case err != nil:
		result.add(StatusFail, "Data directory", err.Error())
		return result
	case !info.IsDir():
		result.add(StatusFail, "Data directory", dir+" is not a directory")
		return result
	default:
		result.add(StatusPass, "Data directory", dir)
	}

	token, err := c.store.Load(ctx)
	if err != nil {
		result.add(StatusFail, "Store readable", err.Error())
		return result
	}
	result.add(StatusPass, "Store readable", path)

	if !token.Valid {
		result.add(StatusWarn, "Session token", "not logged in")
		return result
	}

	if claims, err := auth.ParseClaims(token.Token); err == nil && claims.Expired(now()) {
		result.add(StatusWarn, "Session token", "present but expired; run 'sublet login'")
	} else {
		result.add(StatusPass, "Session token", "present")
	}

	if fi, err := os.Stat(path); err == nil && fi.Mode().Perm()&0o077 != 0 {
		result.add(StatusWarn, "Permissions", "store file is readable by other users")
	}

	return result
}
