package model

import "time"

// UsageRecord is an hourly-bucketed usage aggregate per game. Counts are
// upserted additively and the peak CCU is a high-water mark. This service
// only writes usage records; billing reads them elsewhere.
type UsageRecord struct {
	ID            int64     `json:"id" db:"id"`
	GameID        int64     `json:"game_id" db:"game_id"`
	BucketStart   time.Time `json:"bucket_start" db:"bucket_start"`
	APICalls      int64     `json:"api_calls" db:"api_calls"`
	TransportMsgs int64     `json:"transport_msgs" db:"transport_msgs"`
	PeakCCU       int64     `json:"peak_ccu" db:"peak_ccu"`
}

// UsageBucket truncates t to the start of its UTC hour, the granularity at
// which usage is aggregated.
func UsageBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
