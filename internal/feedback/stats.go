package feedback

import "github.com/logsentinel/sentinel/internal/models"

func summarize(records []models.Feedback, whitelistSize int) models.FeedbackStats {
	stats := models.FeedbackStats{
		Total:         len(records),
		ByKind:        make(map[models.FeedbackKind]int),
		ByActualLabel: make(map[models.Label]int),
		WhitelistSize: whitelistSize,
	}
	for _, fb := range records {
		stats.ByKind[fb.Kind]++
		stats.ByActualLabel[fb.ActualLabel]++
		if fb.SubmittedAt.After(stats.LastSubmitted) {
			stats.LastSubmitted = fb.SubmittedAt
		}
	}
	stats.FalsePositives = stats.ByKind[models.FeedbackFalsePositive]
	stats.FalseNegatives = stats.ByKind[models.FeedbackFalseNegative]
	return stats
}
