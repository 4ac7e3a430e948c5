package services

import (
	"sync"

	"dancehost/internal/models"
)

// LocationCache keeps the last forwarded sample per (channel, user). Each channel has its
// own lock, the same scheme the connection registry uses.
type LocationCache struct {
	channels sync.Map // channel key -> *sampleSet
}

type sampleSet struct {
	mu      sync.Mutex
	samples map[string]models.LocationSample
	retired bool
}

func NewLocationCache() *LocationCache {
	return &LocationCache{}
}

// Record stores sample as userID's latest and returns the latest sample of any other
// participant on the channel, in one step.
func (c *LocationCache) Record(channelKey, userID string, sample models.LocationSample) (peer *models.LocationSample) {
	for {
		value, _ := c.channels.LoadOrStore(channelKey, &sampleSet{samples: make(map[string]models.LocationSample, 2)})
		set := value.(*sampleSet)

		set.mu.Lock()
		if set.retired {
			set.mu.Unlock()
			continue
		}
		set.samples[userID] = sample
		for other, s := range set.samples {
			if other != userID {
				found := s
				peer = &found
				break
			}
		}
		set.mu.Unlock()
		return peer
	}
}

// Latest returns userID's last sample on the channel.
func (c *LocationCache) Latest(channelKey, userID string) (models.LocationSample, bool) {
	value, ok := c.channels.Load(channelKey)
	if !ok {
		return models.LocationSample{}, false
	}
	set := value.(*sampleSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	s, ok := set.samples[userID]
	return s, ok
}

// Forget drops userID's sample; the channel entry goes away with its last sample.
func (c *LocationCache) Forget(channelKey, userID string) {
	value, ok := c.channels.Load(channelKey)
	if !ok {
		return
	}
	set := value.(*sampleSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	delete(set.samples, userID)
	if len(set.samples) == 0 && !set.retired {
		set.retired = true
		c.channels.CompareAndDelete(channelKey, set)
	}
}

// Purge drops every sample on the channel.
func (c *LocationCache) Purge(channelKey string) {
	value, ok := c.channels.LoadAndDelete(channelKey)
	if !ok {
		return
	}
	set := value.(*sampleSet)
	set.mu.Lock()
	set.retired = true
	set.samples = nil
	set.mu.Unlock()
}
