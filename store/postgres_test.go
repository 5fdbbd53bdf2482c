package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/madpsy/aisguard/vessel"
)

// openTestPostgres connects to AISGUARD_TEST_DATABASE_URL or skips.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("AISGUARD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AISGUARD_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() {
		p.ClearData(context.Background())
		p.Close()
	})
	if err := p.ClearData(ctx); err != nil {
		t.Fatalf("ClearData: %v", err)
	}
	return p
}

func TestPostgresBackfillAndReferences(t *testing.T) {
	p := openTestPostgres(t)
	ctx := context.Background()

	src := &vessel.Source{ID: "pg-test", Name: "pg", CreatedAt: time.Now(), SpoofLimitKm: 300}
	if err := p.PutSource(ctx, src); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.DeleteSource(context.Background(), src.ID, true) })

	p.AddPosition(ctx, pos(123456789, src.ID, 91, 181, false, false))
	if n, err := p.BackfillDisplay(ctx, 123456789, 10, 20); err != nil || n != 1 {
		t.Fatalf("BackfillDisplay = %d, %v", n, err)
	}
	lat, lon, ok, err := p.LastDisplay(ctx, 123456789)
	if err != nil || !ok || lat != 10 || lon != 20 {
		t.Errorf("LastDisplay = %v,%v,%v,%v", lat, lon, ok, err)
	}

	p.AddPosition(ctx, pos(2320001, src.ID, 1, 2, true, true))
	refs, err := p.VdoReferences(ctx, src.ID)
	if err != nil || len(refs) != 1 || refs[0].SpoofLimitKm != 300 {
		t.Errorf("VdoReferences = %+v, %v", refs, err)
	}

	evicted := 0
	for i := 0; i < 4; i++ {
		n, err := p.AddMessage(ctx, &vessel.StoredMessage{SourceID: src.ID, Raw: "x", Timestamp: time.Now()}, 2)
		if err != nil {
			t.Fatal(err)
		}
		evicted += n
	}
	if msgs, _ := p.Messages(ctx, src.ID); len(msgs) != 2 || evicted != 2 {
		t.Errorf("messages = %d evicted = %d", len(msgs), evicted)
	}
}
