package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/icsight/icsight/internal/model"
)

func flow(src, dst string, size int64) model.ClassifiedEvent {
	return model.ClassifiedEvent{
		SourceEndpoint:      src,
		DestinationEndpoint: dst,
		SizeBytes:           size,
		Severity:            model.SeverityNormal,
	}
}

func TestTopTalkers_RanksByWeightDescending(t *testing.T) {
	events := []model.ClassifiedEvent{
		flow("A", "B", 100),
		flow("A", "B", 50),
		flow("C", "D", 200),
	}

	talkers := TopTalkers(events, 10)

	assert.Len(t, talkers, 2)
	assert.Equal(t, TalkerStat{EndpointA: "C", EndpointB: "D", Weight: 200, Packets: 1}, talkers[0])
	assert.Equal(t, TalkerStat{EndpointA: "A", EndpointB: "B", Weight: 150, Packets: 2}, talkers[1])
}

func TestTopTalkers_UnorderedPairGrouping(t *testing.T) {
	// A->B and B->A are the same conversation.
	events := []model.ClassifiedEvent{
		flow("B", "A", 10),
		flow("A", "B", 30),
	}

	talkers := TopTalkers(events, 10)

	assert.Len(t, talkers, 1)
	assert.Equal(t, "A", talkers[0].EndpointA)
	assert.Equal(t, "B", talkers[0].EndpointB)
	assert.Equal(t, int64(40), talkers[0].Weight)
}

func TestTopTalkers_CountFallbackWhenSizeAbsent(t *testing.T) {
	events := []model.ClassifiedEvent{
		flow("A", "B", 0),
		flow("A", "B", 0),
		flow("A", "B", 0),
	}

	talkers := TopTalkers(events, 10)
	assert.Equal(t, int64(3), talkers[0].Weight)
}

func TestTopTalkers_LexicalTieBreak(t *testing.T) {
	events := []model.ClassifiedEvent{
		flow("X", "Y", 100),
		flow("A", "B", 100),
		flow("M", "N", 100),
	}

	talkers := TopTalkers(events, 10)

	assert.Equal(t, "A", talkers[0].EndpointA)
	assert.Equal(t, "M", talkers[1].EndpointA)
	assert.Equal(t, "X", talkers[2].EndpointA)
}

func TestTopTalkers_TruncatesToK(t *testing.T) {
	events := []model.ClassifiedEvent{
		flow("A", "B", 300),
		flow("C", "D", 200),
		flow("E", "F", 100),
	}

	talkers := TopTalkers(events, 2)
	assert.Len(t, talkers, 2)
	assert.Equal(t, int64(300), talkers[0].Weight)
}

func TestTopTalkers_EmptyWindow(t *testing.T) {
	assert.Empty(t, TopTalkers(nil, 10))
}
