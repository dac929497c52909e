package decoder

import (
	"fmt"

	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

// WeightSource resolves named weight matrices. Vector parameters are stored
// as single-row matrices. pkg/feat's File satisfies this.
type WeightSource interface {
	Matrix(name string) (*tensor.Mat, error)
}

// LoadWeights overwrites the decoder's trainable parameters from named
// matrices: "decoder/embedding", "decoder/rnn<l>/{wx,wh,bx,bh}",
// "decoder/bottleneck/{w,b}" and "decoder/output/{w,b}" (output/w is skipped
// for tied embeddings). Attention scorer weights are owned by the scorer and
// are not part of this contract. Any missing name or shape mismatch fails
// without partial application being rolled back, so callers should treat a
// failed load as fatal.
func (d *Decoder) LoadWeights(src WeightSource) error {
	if err := loadMat(src, "decoder/embedding", d.embed); err != nil {
		return err
	}
	for l, cell := range d.stack.Cells {
		wx, wh, bx, bh := cellParams(cell)
		prefix := fmt.Sprintf("decoder/rnn%d", l)
		if err := loadMat(src, prefix+"/wx", wx); err != nil {
			return err
		}
		if err := loadMat(src, prefix+"/wh", wh); err != nil {
			return err
		}
		if err := loadVec(src, prefix+"/bx", bx); err != nil {
			return err
		}
		if err := loadVec(src, prefix+"/bh", bh); err != nil {
			return err
		}
	}
	if err := loadMat(src, "decoder/bottleneck/w", d.gen.outputBn); err != nil {
		return err
	}
	if err := loadVec(src, "decoder/bottleneck/b", d.gen.bnB); err != nil {
		return err
	}
	if !d.cfg.TieEmbedding {
		if err := loadMat(src, "decoder/output/w", d.output); err != nil {
			return err
		}
	}
	return loadVec(src, "decoder/output/b", d.outB)
}

func cellParams(c rnn.Cell) (wx, wh *tensor.Mat, bx, bh []float32) {
	switch cell := c.(type) {
	case *rnn.LSTMCell:
		return cell.Wx, cell.Wh, cell.Bx, cell.Bh
	case *rnn.GRUCell:
		return cell.Wx, cell.Wh, cell.Bx, cell.Bh
	default:
		panic(fmt.Sprintf("decoder: unknown cell type %T", c))
	}
}

func loadMat(src WeightSource, name string, dst *tensor.Mat) error {
	m, err := src.Matrix(name)
	if err != nil {
		return fmt.Errorf("decoder: load %s: %w", name, err)
	}
	if m.R != dst.R || m.C != dst.C {
		return fmt.Errorf("decoder: %s is [%d, %d], model expects [%d, %d]", name, m.R, m.C, dst.R, dst.C)
	}
	for r := 0; r < dst.R; r++ {
		copy(dst.Row(r), m.Row(r))
	}
	return nil
}

func loadVec(src WeightSource, name string, dst []float32) error {
	m, err := src.Matrix(name)
	if err != nil {
		return fmt.Errorf("decoder: load %s: %w", name, err)
	}
	if m.R != 1 || m.C != len(dst) {
		return fmt.Errorf("decoder: %s is [%d, %d], model expects [1, %d]", name, m.R, m.C, len(dst))
	}
	copy(dst, m.Row(0))
	return nil
}
