package decoder

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/asrkit/spellout/internal/tensor"
	"github.com/asrkit/spellout/pkg/feat"
)

type matSource map[string]*tensor.Mat

func (s matSource) Matrix(name string) (*tensor.Mat, error) {
	m, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("no matrix %q", name)
	}
	return m, nil
}

func asRowVec(v []float32) *tensor.Mat {
	return tensor.NewMatFromData(1, len(v), append([]float32(nil), v...))
}

// exportWeights flattens a decoder's parameters into the LoadWeights naming.
func exportWeights(d *Decoder) matSource {
	src := matSource{
		"decoder/embedding":    d.embed,
		"decoder/bottleneck/w": d.gen.outputBn,
		"decoder/bottleneck/b": asRowVec(d.gen.bnB),
		"decoder/output/w":     d.output,
		"decoder/output/b":     asRowVec(d.outB),
	}
	for l, cell := range d.stack.Cells {
		wx, wh, bx, bh := cellParams(cell)
		prefix := fmt.Sprintf("decoder/rnn%d", l)
		src[prefix+"/wx"] = wx
		src[prefix+"/wh"] = wh
		src[prefix+"/bx"] = asRowVec(bx)
		src[prefix+"/bh"] = asRowVec(bh)
	}
	return src
}

func matsEqual(a, b *tensor.Mat) bool {
	if a.R != b.R || a.C != b.C {
		return false
	}
	for r := 0; r < a.R; r++ {
		ra, rb := a.Row(r), b.Row(r)
		for c := range ra {
			if ra[c] != rb[c] {
				return false
			}
		}
	}
	return true
}

func TestLoadWeights(t *testing.T) {
	donor := newTestDecoder(t, 31)
	d := newTestDecoder(t, 99)

	if matsEqual(donor.embed, d.embed) {
		t.Fatal("fixtures share weights before load")
	}
	if err := d.LoadWeights(exportWeights(donor)); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if !matsEqual(donor.embed, d.embed) {
		t.Fatal("embedding not loaded")
	}
	if !matsEqual(donor.gen.outputBn, d.gen.outputBn) {
		t.Fatal("bottleneck not loaded")
	}
	for l := range d.stack.Cells {
		wx, _, _, _ := cellParams(d.stack.Cells[l])
		dwx, _, _, _ := cellParams(donor.stack.Cells[l])
		if !matsEqual(wx, dwx) {
			t.Fatalf("layer %d input weights not loaded", l)
		}
	}
}

func TestLoadWeightsErrors(t *testing.T) {
	donor := newTestDecoder(t, 31)
	src := exportWeights(donor)

	d := newTestDecoder(t, 99)
	incomplete := matSource{}
	for k, v := range src {
		incomplete[k] = v
	}
	delete(incomplete, "decoder/rnn0/wh")
	if err := d.LoadWeights(incomplete); err == nil {
		t.Fatal("missing matrix accepted")
	}

	bad := matSource{}
	for k, v := range src {
		bad[k] = v
	}
	bad["decoder/embedding"] = tensor.NewMat(1, 1)
	if err := d.LoadWeights(bad); err == nil {
		t.Fatal("shape mismatch accepted")
	}
}

func TestLoadWeightsFromContainer(t *testing.T) {
	donor := newTestDecoder(t, 31)
	path := filepath.Join(t.TempDir(), "weights.fea")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := feat.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for name, m := range exportWeights(donor) {
		if err := w.Add(name, m); err != nil {
			t.Fatalf("Add %s: %v", name, err)
		}
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ff, err := feat.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = ff.Close() }()

	d := newTestDecoder(t, 99)
	if err := d.LoadWeights(ff); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if !matsEqual(donor.embed, d.embed) {
		t.Fatal("embedding round trip mismatch")
	}
}
