package pipeline

// DataChunk is the unit carried across the DL and UP queues: a block of
// bytes together with the byte range it occupies in its stream.
type DataChunk struct {
	Index int
	Start int64
	End   int64
	Data  []byte
}
