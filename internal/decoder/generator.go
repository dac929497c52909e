package decoder

import (
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/tensor"
)

// generator turns a context vector and the recurrent generation view into
// the bottleneck feature that feeds the output projection. With a fused LM
// it additionally gates LM features into the bottleneck; the three fusion
// variants only differ in what the LM projection consumes.
type generator struct {
	outputBn *tensor.Mat // [bottleneck, bnIn]
	bnB      []float32

	// Fusion weights; nil without a fused LM.
	linearDecFeat *tensor.Mat // [units, outDim+encUnits]
	decFeatB      []float32
	linearLMFeat  *tensor.Mat // [units, lm units or lm vocab]
	lmFeatB       []float32
	linearLMGate  *tensor.Mat // [units, 2*units]
	gateB         []float32

	fusion FusionType
	units  int

	decFeat, lmFeat, gate, gateIn, bnIn []float32
}

func newGenerator(cfg Config, outDim int, fusion lm.Model) (*generator, error) {
	g := &generator{fusion: cfg.Fusion, units: cfg.Units}
	if fusion == nil {
		g.outputBn = tensor.NewMat(cfg.BottleneckDim, outDim+cfg.EncUnits)
		g.bnB = make([]float32, cfg.BottleneckDim)
		g.bnIn = make([]float32, outDim+cfg.EncUnits)
		return g, nil
	}
	lmIn := fusion.Units()
	if cfg.Fusion == FusionColdProb {
		lmIn = fusion.Vocab()
	}
	g.linearDecFeat = tensor.NewMat(cfg.Units, outDim+cfg.EncUnits)
	g.decFeatB = make([]float32, cfg.Units)
	g.linearLMFeat = tensor.NewMat(cfg.Units, lmIn)
	g.lmFeatB = make([]float32, cfg.Units)
	g.linearLMGate = tensor.NewMat(cfg.Units, 2*cfg.Units)
	g.gateB = make([]float32, cfg.Units)
	for i := range g.gateB {
		g.gateB[i] = -1 // closed-ish gate at start of training
	}
	g.outputBn = tensor.NewMat(cfg.BottleneckDim, 2*cfg.Units)
	g.bnB = make([]float32, cfg.BottleneckDim)

	g.decFeat = make([]float32, cfg.Units)
	g.lmFeat = make([]float32, cfg.Units)
	g.gate = make([]float32, cfg.Units)
	g.gateIn = make([]float32, 2*cfg.Units)
	g.bnIn = make([]float32, 2*cfg.Units)
	return g, nil
}

func (g *generator) initUniform(seed int64, bound float32) {
	tensor.FillUniform(g.outputBn, seed+1, bound)
	if g.linearDecFeat != nil {
		tensor.FillUniform(g.linearDecFeat, seed+2, bound)
		tensor.FillUniform(g.linearLMFeat, seed+3, bound)
		tensor.FillUniform(g.linearLMGate, seed+4, bound)
	}
}

// generate writes the tanh bottleneck feature for one batch row into dst.
// lmRow is the fused LM's hidden features (cold/deep) or output distribution
// (cold_prob); it must be non-nil when fusion is configured.
func (g *generator) generate(dst, cv, dout, lmRow []float32) {
	if g.linearDecFeat == nil {
		copy(g.bnIn, dout)
		copy(g.bnIn[len(dout):], cv)
		tensor.MatVecAdd(dst, g.outputBn, g.bnIn, g.bnB)
		tensor.TanhInPlace(dst)
		return
	}
	in := make([]float32, len(dout)+len(cv))
	copy(in, dout)
	copy(in[len(dout):], cv)
	tensor.MatVecAdd(g.decFeat, g.linearDecFeat, in, g.decFeatB)
	tensor.MatVecAdd(g.lmFeat, g.linearLMFeat, lmRow, g.lmFeatB)
	copy(g.gateIn, g.decFeat)
	copy(g.gateIn[g.units:], g.lmFeat)
	tensor.MatVecAdd(g.gate, g.linearLMGate, g.gateIn, g.gateB)
	tensor.SigmoidInPlace(g.gate)
	copy(g.bnIn, g.decFeat)
	for i := 0; i < g.units; i++ {
		g.bnIn[g.units+i] = g.gate[i] * g.lmFeat[i]
	}
	tensor.MatVecAdd(dst, g.outputBn, g.bnIn, g.bnB)
	tensor.TanhInPlace(dst)
}
