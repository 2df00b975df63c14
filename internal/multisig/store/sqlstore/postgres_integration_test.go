//go:build integration

package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"veridian/pkg/testutil/containers"
)

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	pg := containers.NewPostgresContainer(t)

	suite.Run(t, &StoreSuite{open: func() *Store {
		ctx := context.Background()
		pg.Reset(ctx, t)
		s, err := Open(ctx, Postgres, pg.DSN)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		return s
	}})
}
