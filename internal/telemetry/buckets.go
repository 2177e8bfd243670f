package telemetry

// LatencyBucketsSeconds defines histogram buckets shared by latency metrics.
// Fetches include a simulated delay of several seconds, so the upper buckets
// reach past the combined connect and read timeouts.
var LatencyBucketsSeconds = []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 4, 5, 7.5, 10, 15}
