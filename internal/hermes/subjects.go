package hermes

const (
	SubjectCycleRequest = "cover.cycle.request"

	StreamName   = "COVER_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

// StreamSubjects are the subjects captured by StreamName.
var StreamSubjects = []string{"cover.cycle.>", "cover.recommendation.>", "cover.comment.>"}

func SubjectCycleCompleted(cycleID string) string { return "cover.cycle." + cycleID + ".completed" }
func SubjectCycleEmpty(cycleID string) string     { return "cover.cycle." + cycleID + ".empty" }
func SubjectCycleFailed(cycleID string) string    { return "cover.cycle." + cycleID + ".failed" }

func SubjectRecommendationCreated(recommendationID string) string {
	return "cover.recommendation." + recommendationID + ".created"
}

func SubjectComment(cycleID string) string { return "cover.comment." + cycleID }
