package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/config"
	"github.com/marmos91/dittodisk/pkg/fsck"
	"github.com/marmos91/dittodisk/pkg/tree"
)

func newPhysicalChecker(rt *config.Runtime) (*fsck.Checker, error) {
	return fsck.NewChecker(rt.Metadata, rt.Content, fsck.Config{
		Interval: rt.Config.Check.Interval,
		Physical: true,
	})
}

// checkUsers checks the named accounts, or every account when users is empty.
func checkUsers(ctx context.Context, c *fsck.Checker, users []string) ([]*fsck.Report, error) {
	if len(users) == 0 {
		return c.CheckAll(ctx)
	}

	reports := make([]*fsck.Report, 0, len(users))
	for _, u := range users {
		r, err := c.Check(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", u, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// exportToFile writes the archive to path, removing the partial file on
// failure.
func exportToFile(ctx context.Context, rt *config.Runtime, sess *tree.Session, folderID uuid.UUID, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	n, err := rt.Exporter.Export(ctx, sess, folderID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}

	fmt.Printf("Wrote %s (%d bytes)\n", path, n)
	return nil
}
