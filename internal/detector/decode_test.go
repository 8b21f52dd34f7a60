package detector_test

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/detector/fake"
	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/labels"
	"github.com/MeKo-Tech/spotter/internal/onnx/mock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeLabels() *labels.Table {
	return labels.New([]string{"person", "bicycle", "car"})
}

func newDecoder(t *testing.T, table *labels.Table, opts detector.DecodeOptions) *detector.Decoder {
	t.Helper()
	d, err := detector.NewDecoder(table, opts)
	require.NoError(t, err)
	return d
}

func source(t *testing.T, w, h int) *frame.Frame {
	t.Helper()
	f, err := frame.New(w, h, 3)
	require.NoError(t, err)
	return f
}

func TestNewDecoder_Validation(t *testing.T) {
	_, err := detector.NewDecoder(nil, detector.DecodeOptions{})
	require.Error(t, err)
	_, err = detector.NewDecoder(labels.New(nil), detector.DecodeOptions{})
	require.Error(t, err)
	_, err = detector.NewDecoder(threeLabels(), detector.DecodeOptions{MinConfidence: 1.5})
	require.Error(t, err)
	_, err = detector.NewDecoder(threeLabels(), detector.DecodeOptions{MinConfidence: -0.1})
	require.Error(t, err)
}

func TestDecode_SingleDetectionBoxMapping(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{MinConfidence: 0.5})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Box: [4]float32{0.1, 0.2, 0.5, 0.6}, Class: 1, Score: 0.9},
	}))
	src := source(t, 100, 200)

	dets, err := d.Decode(raw, src)
	require.NoError(t, err)
	require.Len(t, dets, 1)

	got := dets[0]
	assert.Equal(t, "person", got.Name)
	assert.InDelta(t, 0.9, got.Confidence, 1e-6)
	assert.InDelta(t, 20, got.Box.LowerLeft.X, 1e-4)
	assert.InDelta(t, 20, got.Box.LowerLeft.Y, 1e-4)
	assert.InDelta(t, 60, got.Box.UpperRight.X, 1e-4)
	assert.InDelta(t, 100, got.Box.UpperRight.Y, 1e-4)
	assert.Same(t, src, got.Image)
}

func TestDecode_StrictThreshold(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{MinConfidence: 0.5})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Class: 1, Score: 0.9},
		{Class: 2, Score: 0.5},
		{Class: 3, Score: 0.3},
	}))

	dets, err := d.Decode(raw, source(t, 10, 10))
	require.NoError(t, err)
	require.Len(t, dets, 1, "a score equal to the threshold is dropped")
	assert.Equal(t, "person", dets[0].Name)
}

func TestDecode_ThresholdBoundary(t *testing.T) {
	const minConf = float32(0.5)
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{MinConfidence: minConf})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Class: 1, Score: minConf},
		{Class: 2, Score: math.Nextafter32(minConf, 1)},
		{Class: 3, Score: math.Nextafter32(minConf, 0)},
	}))

	dets, err := d.Decode(raw, source(t, 10, 10))
	require.NoError(t, err)
	require.Len(t, dets, 1, "only the score one ulp above the threshold is kept")
	assert.Equal(t, "bicycle", dets[0].Name)
}

func TestDecode_NormalizedBoxToPixels(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Box: [4]float32{0.25, 0.1, 0.75, 0.9}, Class: 3, Score: 0.8},
	}))

	dets, err := d.Decode(raw, source(t, 200, 100))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	box := dets[0].Box
	assert.InDelta(t, 20, box.LowerLeft.X, 1e-4)
	assert.InDelta(t, 25, box.LowerLeft.Y, 1e-4)
	assert.InDelta(t, 180, box.UpperRight.X, 1e-4)
	assert.InDelta(t, 75, box.UpperRight.Y, 1e-4)
}

func TestDecode_DescendingOrder(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{MinConfidence: 0.5})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Class: 1, Score: 0.6},
		{Class: 2, Score: 0.95},
		{Class: 3, Score: 0.8},
	}))

	dets, err := d.Decode(raw, source(t, 10, 10))
	require.NoError(t, err)
	require.Len(t, dets, 3)
	assert.Equal(t, []string{"bicycle", "car", "person"}, []string{dets[0].Name, dets[1].Name, dets[2].Name})
	assert.InDelta(t, 0.95, dets[0].Confidence, 1e-6)
	assert.InDelta(t, 0.6, dets[2].Confidence, 1e-6)
}

func TestDecode_TiesKeepSlotOrder(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Class: 3, Score: 0.7},
		{Class: 1, Score: 0.7},
		{Class: 2, Score: 0.7},
	}))

	dets, err := d.Decode(raw, source(t, 10, 10))
	require.NoError(t, err)
	require.Len(t, dets, 3)
	assert.Equal(t, []string{"car", "person", "bicycle"}, []string{dets[0].Name, dets[1].Name, dets[2].Name})
}

func TestDecode_NothingAboveThreshold(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{MinConfidence: 0.5})
	raw := fake.Raw(mock.NewOutputs(mock.Uniform(100, 2, 0.1)))

	dets, err := d.Decode(raw, source(t, 10, 10))
	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.NotNil(t, dets)
}

func TestDecode_ZeroCandidates(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{})
	dets, err := d.Decode(fake.Raw(mock.NewOutputs(nil)), source(t, 10, 10))
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDecode_TopHits(t *testing.T) {
	raw := fake.Raw(mock.NewOutputs(mock.Uniform(100, 1, 0.9)))

	tests := []struct {
		topHits int
		want    int
	}{
		{0, 100},
		{-1, 100},
		{1, 1},
		{10, 10},
		{100, 100},
		{250, 100},
	}
	for _, tt := range tests {
		d := newDecoder(t, threeLabels(), detector.DecodeOptions{TopHits: tt.topHits})
		dets, err := d.Decode(raw, source(t, 10, 10))
		require.NoError(t, err)
		assert.Len(t, dets, tt.want, "top hits %d", tt.topHits)
	}
}

func TestDecode_TopHitsIgnoresLaterSlots(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{TopHits: 1})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Class: 1, Score: 0.2},
		{Class: 2, Score: 0.99},
		{Class: 99, Score: 0.99},
	}))

	dets, err := d.Decode(raw, source(t, 10, 10))
	require.NoError(t, err, "slots beyond TopHits are never looked up")
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Name)
}

func TestDecode_LabelIndexOutOfRange(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{MinConfidence: 0.5})

	for _, class := range []int{0, 4, 90} {
		raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
			{Class: 1, Score: 0.9},
			{Class: class, Score: 0.1},
		}))
		_, err := d.Decode(raw, source(t, 10, 10))
		require.ErrorIs(t, err, detector.ErrLabelIndexOutOfRange, "class %d", class)

		var lerr *detector.LabelIndexError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, class, lerr.ClassID)
		assert.Equal(t, 1, lerr.Slot)
		assert.Equal(t, 3, lerr.TableSize)
	}
}

func TestDecode_UnorderedBoxIsNormalized(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{})
	raw := fake.Raw(mock.NewOutputs([]mock.Candidate{
		{Box: [4]float32{0.8, 0.9, 0.2, 0.1}, Class: 1, Score: 0.9},
	}))

	dets, err := d.Decode(raw, source(t, 100, 100))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	b := dets[0].Box
	assert.InDelta(t, 10, b.LowerLeft.X, 1e-4)
	assert.InDelta(t, 20, b.LowerLeft.Y, 1e-4)
	assert.InDelta(t, 90, b.UpperRight.X, 1e-4)
	assert.InDelta(t, 80, b.UpperRight.Y, 1e-4)
}

func TestDecode_UsesBatchRowZero(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{})
	raw := detector.RawOutputs{
		Boxes:      []float32{0, 0, 1, 1, 0, 0, 1, 1},
		Classes:    []float32{1, 2},
		Scores:     []float32{0.4, 0.9},
		Batch:      2,
		Candidates: 1,
	}
	dets, err := d.Decode(raw, source(t, 10, 10))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Name)
}

func TestDecode_InvalidInput(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{})
	_, err := d.Decode(fake.Raw(mock.NewOutputs(nil)), nil)
	require.Error(t, err)

	_, err = d.Decode(detector.RawOutputs{Batch: 0}, source(t, 1, 1))
	require.Error(t, err)
}

func TestDecode_SharedSourceFrame(t *testing.T) {
	d := newDecoder(t, threeLabels(), detector.DecodeOptions{})
	src := source(t, 50, 50)
	dets, err := d.Decode(fake.Raw(mock.NewOutputs(mock.Uniform(5, 2, 0.6))), src)
	require.NoError(t, err)
	for _, det := range dets {
		assert.Same(t, src, det.Image)
	}
}

type decodeCase struct {
	seed    int64
	n       int
	topHits int
	min     float32
}

func genDecodeCase() gopter.Gen {
	return gopter.CombineGens(
		gen.Int64(),
		gen.IntRange(0, 120),
		gen.IntRange(-5, 150),
		gen.Float32Range(0, 1),
	).Map(func(v []interface{}) decodeCase {
		return decodeCase{seed: v[0].(int64), n: v[1].(int), topHits: v[2].(int), min: v[3].(float32)}
	})
}

func decodeRandom(c decodeCase) ([]mock.Candidate, []detector.Detection, error) {
	rng := rand.New(rand.NewSource(c.seed))
	cands := mock.RandomCandidates(rng, c.n, 90)
	d, err := detector.NewDecoder(labels.COCO(), detector.DecodeOptions{MinConfidence: c.min, TopHits: c.topHits})
	if err != nil {
		return nil, nil, err
	}
	src, err := frame.New(640, 480, 3)
	if err != nil {
		return nil, nil, err
	}
	dets, err := d.Decode(fake.Raw(mock.NewSortedOutputs(cands)), src)
	return cands, dets, err
}

func TestDecode_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("count never exceeds min(TopHits, N)", prop.ForAll(
		func(c decodeCase) bool {
			_, dets, err := decodeRandom(c)
			if err != nil {
				return false
			}
			limit := c.n
			if c.topHits > 0 && c.topHits < c.n {
				limit = c.topHits
			}
			return len(dets) <= limit
		},
		genDecodeCase(),
	))

	properties.Property("every confidence is strictly above the threshold", prop.ForAll(
		func(c decodeCase) bool {
			_, dets, err := decodeRandom(c)
			if err != nil {
				return false
			}
			for _, d := range dets {
				if !(d.Confidence > c.min) {
					return false
				}
			}
			return true
		},
		genDecodeCase(),
	))

	properties.Property("boxes are ordered and inside the source frame", prop.ForAll(
		func(c decodeCase) bool {
			_, dets, err := decodeRandom(c)
			if err != nil {
				return false
			}
			return detector.ValidateDetections(dets, 640, 480) == nil
		},
		genDecodeCase(),
	))

	properties.Property("output is sorted by descending confidence", prop.ForAll(
		func(c decodeCase) bool {
			_, dets, err := decodeRandom(c)
			if err != nil {
				return false
			}
			return sort.SliceIsSorted(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
		},
		genDecodeCase(),
	))

	properties.Property("with no threshold and no cap every slot survives", prop.ForAll(
		func(seed int64, n int) bool {
			c := decodeCase{seed: seed, n: n}
			cands, dets, err := decodeRandom(c)
			if err != nil {
				return false
			}
			positive := 0
			for _, cand := range cands {
				if cand.Score > 0 {
					positive++
				}
			}
			return len(dets) == positive
		},
		gen.Int64(),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
