package cachefab

import (
	"encoding/json"
	"time"
)

// entry is the envelope stored in both tiers. value == nil with negative ==
// true is a legitimate cached negative result (spec 3: CacheEntry).
type entry struct {
	Value     []byte    `json:"value,omitempty"`
	Negative  bool      `json:"negative,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

func (e entry) expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

func marshalEntry(e entry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(data []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, err
	}
	return e, nil
}
