package sink_test

import (
	"errors"
	"testing"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
)

func TestRefRoundTrip(t *testing.T) {
	jobID := id.NewJobID()
	ref := sink.Ref("postgres", jobID)

	got, err := sink.ParseRef("postgres", ref)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.String() != jobID.String() {
		t.Errorf("got %s, want %s", got, jobID)
	}
}

func TestParseRefRejectsForeignReferences(t *testing.T) {
	for _, ref := range []string{
		sink.Ref("mongo", id.NewJobID()),
		"postgres://not-an-id",
		"",
	} {
		if _, err := sink.ParseRef("postgres", ref); !errors.Is(err, jascrapers.ErrResultNotFound) {
			t.Errorf("ParseRef(%q) = %v, want ErrResultNotFound", ref, err)
		}
	}
}
