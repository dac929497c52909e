package feat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/asrkit/spellout/internal/tensor"
)

type utterMeta struct {
	Corpus     string `json:"corpus"`
	FrameShift int    `json:"frame_shift_ms"`
}

func writeTestContainer(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	a := tensor.NewMat(3, 4)
	for i := range a.Data {
		a.Data[i] = float32(i) * 0.5
	}
	b := tensor.NewMat(2, 5)
	for i := range b.Data {
		b.Data[i] = -float32(i)
	}
	if err := w.Add("utt1/feats", a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("utt1/ctc", b); err != nil {
		t.Fatalf("Add: %v", err)
	}
	w.SetMeta(utterMeta{Corpus: "dev-clean", FrameShift: 10})
	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utts.fea")
	writeTestContainer(t, path)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	names := f.Names()
	if len(names) != 2 || names[0] != "utt1/feats" || names[1] != "utt1/ctc" {
		t.Fatalf("names = %v", names)
	}

	m, err := f.Matrix("utt1/feats")
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if m.R != 3 || m.C != 4 {
		t.Fatalf("shape [%d, %d]", m.R, m.C)
	}
	for i, v := range m.Data {
		if v != float32(i)*0.5 {
			t.Fatalf("value %v at %d", v, i)
		}
	}

	var meta utterMeta
	if err := f.Meta(&meta); err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.Corpus != "dev-clean" || meta.FrameShift != 10 {
		t.Fatalf("meta = %+v", meta)
	}

	if _, err := f.Matrix("utt2/feats"); err == nil {
		t.Fatal("missing matrix did not error")
	}
}

func TestOpenReaderAtMatchesMmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utts.fea")
	writeTestContainer(t, path)

	raw, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = raw.Close() }()
	stat, err := raw.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	f, err := OpenReaderAt(raw, stat.Size())
	if err != nil {
		t.Fatalf("OpenReaderAt: %v", err)
	}
	defer func() { _ = f.Close() }()

	m, err := f.Matrix("utt1/ctc")
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if m.R != 2 || m.C != 5 || m.Data[3] != -3 {
		t.Fatalf("unexpected matrix contents: %+v", m)
	}
}

func TestOpenRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utts.fea")
	writeTestContainer(t, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	tests := []struct {
		name string
		mut  func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:headerSize-1] }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"future major", func(b []byte) []byte { b[4] = 0xFF; return b }},
		{"size mismatch", func(b []byte) []byte { return append(b, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mut(append([]byte(nil), data...))
			p := filepath.Join(dir, tt.name+".fea")
			if err := os.WriteFile(p, mutated, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Open(p); err == nil {
				t.Fatal("corrupt file accepted")
			}
		})
	}
}

func TestWriterValidation(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "utts.fea"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Add("", tensor.NewMat(1, 1)); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := w.Add("m", tensor.NewMat(1, 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("m", tensor.NewMat(1, 1)); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	if err := w.Add("n", tensor.NewMat(1, 1)); err == nil {
		t.Fatal("add after finalise accepted")
	}
}
