package obt_test

import (
	"context"
	"flag"
	"os"
	"testing"

	postgrestesting "github.com/tripslake/lake/builder/pkg/postgres/testing"
	laketesting "github.com/tripslake/lake/utils/pkg/testing"
)

var sharedDB *postgrestesting.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	log := laketesting.NewLogger()
	var err error
	sharedDB, err = postgrestesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Error("failed to create shared DB", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}

func testDatabase(t *testing.T) *postgrestesting.TestDatabase {
	t.Helper()
	if sharedDB == nil {
		t.Skip("skipping postgres test in short mode")
	}
	return postgrestesting.NewTestDatabase(t, sharedDB)
}
