package pool

// Batch is a materialized set of samples, with features padded (or truncated) to the same length.
type Batch struct {
	// Indices are the flat pool indices of each row.
	Indices []int

	// Features shaped [len(Indices)][MaxLen].
	Features [][]int32

	// Targets (labels) for each row.
	Targets []int32

	MaxLen   int
	PadValue int32
}

// NewBatch materializes the rows of features/targets selected by indices.
// Shorter sequences are padded at the end with padValue, longer ones are truncated to maxLen.
func NewBatch(features [][]int32, targets []int32, indices []int, maxLen int, padValue int32) *Batch {
	b := &Batch{
		Indices:  append([]int(nil), indices...),
		Features: make([][]int32, len(indices)),
		Targets:  make([]int32, len(indices)),
		MaxLen:   maxLen,
		PadValue: padValue,
	}
	flat := make([]int32, len(indices)*maxLen)
	for row, idx := range indices {
		rowFeatures := flat[row*maxLen : (row+1)*maxLen]
		n := copy(rowFeatures, features[idx])
		for ii := n; ii < maxLen; ii++ {
			rowFeatures[ii] = padValue
		}
		b.Features[row] = rowFeatures
		b.Targets[row] = targets[idx]
	}
	return b
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int { return len(b.Indices) }

// Shape of the features: rows and columns.
func (b *Batch) Shape() (rows, cols int) { return len(b.Features), b.MaxLen }

// Subset returns a new Batch with the given rows (positions in this batch), sharing the underlying features.
func (b *Batch) Subset(rows []int) *Batch {
	sub := &Batch{
		Indices:  make([]int, len(rows)),
		Features: make([][]int32, len(rows)),
		Targets:  make([]int32, len(rows)),
		MaxLen:   b.MaxLen,
		PadValue: b.PadValue,
	}
	for ii, row := range rows {
		sub.Indices[ii] = b.Indices[row]
		sub.Features[ii] = b.Features[row]
		sub.Targets[ii] = b.Targets[row]
	}
	return sub
}

// BatchIndex locates a sample within a chunked materialization pass: Round is the ordinal of the
// chunk, Offset the row within it.
type BatchIndex struct {
	Round, Offset int
}

// Chunk is a contiguous piece of a list of flat indices.
type Chunk struct {
	Round   int
	Indices []int
}

// Chunks splits indices into chunks of at most size elements. The last chunk may be shorter.
func Chunks(indices []int, size int) []Chunk {
	if size <= 0 {
		size = len(indices)
	}
	var chunks []Chunk
	for start := 0; start < len(indices); start += size {
		end := min(start+size, len(indices))
		chunks = append(chunks, Chunk{Round: len(chunks), Indices: indices[start:end]})
	}
	return chunks
}

// Flat returns the flat pool index of a BatchIndex over the given chunks.
func Flat(chunks []Chunk, bi BatchIndex) int {
	return chunks[bi.Round].Indices[bi.Offset]
}
