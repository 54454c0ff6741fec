package hermes

import (
	"strings"
	"testing"
	"time"
)

func TestSubjects(t *testing.T) {
	cases := map[string]string{
		SubjectCycleCompleted("c1"):        "cover.cycle.c1.completed",
		SubjectCycleEmpty("c1"):            "cover.cycle.c1.empty",
		SubjectCycleFailed("c1"):           "cover.cycle.c1.failed",
		SubjectRecommendationCreated("r1"): "cover.recommendation.r1.created",
		SubjectComment("c1"):               "cover.comment.c1",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestSubjectsInsideStream(t *testing.T) {
	var prefixes []string
	for _, s := range StreamSubjects {
		prefixes = append(prefixes, strings.TrimSuffix(s, ">"))
	}
	for _, s := range []string{
		SubjectCycleRequest,
		SubjectCycleCompleted("x"),
		SubjectRecommendationCreated("x"),
		SubjectComment("x"),
	} {
		ok := false
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				ok = true
			}
		}
		if !ok {
			t.Errorf("subject %s is not covered by stream %s", s, StreamName)
		}
	}
}

func TestStreamMaxAge(t *testing.T) {
	d, err := time.ParseDuration(StreamMaxAge)
	if err != nil {
		t.Fatal(err)
	}
	if d != 30*24*time.Hour {
		t.Errorf("expected 30 days, got %v", d)
	}
}
