package goneuron2d

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsReturnUntypedNilOnError(t *testing.T) {
	l, err := OneDToTwoD(0, false)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Nil(t, l)

	l, err = TwoDLSTM(TwoDLSTMConfig{NIn: 1, NOut: 1, Directions: 3})
	assert.True(t, errors.Is(err, ErrDirections))
	assert.Nil(t, l)

	l, err = ConvPool(ConvPoolConfig{NIn: 1})
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Nil(t, l)
}

func TestFacadePipeline(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reporter := NewReporter(logger)

	layout, err := OneDToTwoD(1, false)
	require.NoError(t, err)
	lstm, err := TwoDLSTM(TwoDLSTMConfig{NIn: 1, NOut: 2, Directions: 2, Projection: Concat, Collapse: "sum", Reporter: reporter})
	require.NoError(t, err)
	p := NewPipeline(layout, lstm)

	seq := NewSequence(6, 2, 1)
	for i := range seq.Data {
		seq.Data[i] = float32(i) / 12
	}
	// sample 0 is 2x3, sample 1 is 1x2
	side := NewMatrix(2, 2, []float32{2, 1, 3, 2})
	out, err := p.Forward(&Batch{Seq: seq, Side: side})
	require.NoError(t, err)
	require.NotNil(t, out.Seq)
	assert.Equal(t, [3]int{3, 2, 4}, out.Seq.Shape())
	assert.Equal(t, []int{3, 2}, out.Index.ColumnSums())
	assert.Equal(t, 4, p.NOut())
}
