package neural

import (
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/fsutil"
)

// 成果物の形式
const (
	FormatAuto     = "auto"
	FormatNative   = "native"
	FormatPortable = "portable"
)

// 成果物ディレクトリ内のファイル名
const (
	NativeFile           = "model.bin"
	PortableTopologyFile = "model.json"
	PortableWeightsFile  = "weights.bin"
)

// LayerArtifact は 1 層分のトポロジーと重み
type LayerArtifact struct {
	In         int       `json:"in"`
	Out        int       `json:"out"`
	Activation string    `json:"activation"`
	Dropout    float64   `json:"dropout"`
	Weights    []float64 `json:"-"`
	Biases     []float64 `json:"-"`
}

// Artifact はネットワークのトポロジーと重み。形式に依存しない。
type Artifact struct {
	Layers []LayerArtifact
}

// ToArtifact はネットワークを成果物に変換する
func (n *Network) ToArtifact() *Artifact {
	a := &Artifact{}
	for _, l := range n.Layers {
		in, out := l.W.Dims()
		w := make([]float64, 0, in*out)
		for i := 0; i < in; i++ {
			w = append(w, l.W.Mat().RawRowView(i)...)
		}
		a.Layers = append(a.Layers, LayerArtifact{
			In: in, Out: out,
			Activation: l.Activation,
			Dropout:    l.Dropout,
			Weights:    w,
			Biases:     append([]float64(nil), l.B...),
		})
	}
	return a
}

// Network は成果物からネットワークを復元する
//
// 重みはプールから取得するため、使用後は Network.Release を呼ぶこと。
func (a *Artifact) Network() (*Network, error) {
	if len(a.Layers) == 0 {
		return nil, errors.NewValidationError("artifact", "artifact has no layers", 0)
	}
	for i, l := range a.Layers {
		if l.In < 1 || l.Out < 1 || len(l.Weights) != l.In*l.Out || len(l.Biases) != l.Out {
			return nil, errors.NewValidationError("artifact.layers", "layer shape does not match its weights", i)
		}
		if i > 0 && a.Layers[i-1].Out != l.In {
			return nil, errors.NewValidationError("artifact.layers", "consecutive layers do not connect", i)
		}
	}

	n := &Network{}
	for _, l := range a.Layers {
		w := NewTensor(l.In, l.Out)
		w.Mat().Copy(mat.NewDense(l.In, l.Out, l.Weights))
		n.Layers = append(n.Layers, &Dense{
			W:          w,
			B:          append([]float64(nil), l.Biases...),
			Activation: l.Activation,
			Dropout:    l.Dropout,
		})
	}
	return n, nil
}

// Backend は成果物の保存形式
type Backend interface {
	Name() string
	Save(dir string, a *Artifact) error
	Load(dir string) (*Artifact, error)
}

// ProbeBackend は保存に使うバックエンドを選ぶ
//
// "auto" の場合、CPU が AVX2 と FMA3 をサポートしていれば native、そうでなければ portable。
func ProbeBackend(format string) (Backend, error) {
	switch format {
	case FormatAuto, "":
		if cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) {
			return NativeBackend{}, nil
		}
		return PortableBackend{}, nil
	case FormatNative:
		return NativeBackend{}, nil
	case FormatPortable:
		return PortableBackend{}, nil
	default:
		return nil, errors.NewValidationError("artifact.format", "unknown artifact format", format)
	}
}

// DetectBackend はディレクトリに存在する成果物の形式を判定する
func DetectBackend(dir string) (Backend, error) {
	switch {
	case fsutil.Exists(filepath.Join(dir, NativeFile)):
		return NativeBackend{}, nil
	case fsutil.Exists(filepath.Join(dir, PortableTopologyFile)):
		return PortableBackend{}, nil
	default:
		return nil, errors.NewArtifactIOError("detect", dir, os.ErrNotExist)
	}
}

// LoadArtifact はどちらの形式で保存された成果物も同じように読み込む
func LoadArtifact(dir string) (*Artifact, error) {
	b, err := DetectBackend(dir)
	if err != nil {
		return nil, err
	}
	return b.Load(dir)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewArtifactIOError("mkdir", dir, err)
	}
	return nil
}

// ===========================================================================
//
//	native: gob でトポロジーと float64 の重みを 1 ファイルに保存する
//
// ===========================================================================

// NativeBackend は model.bin に gob 形式で保存する
type NativeBackend struct{}

type nativeLayer struct {
	In, Out    int
	Activation string
	Dropout    float64
	Weights    []float64
	Biases     []float64
}

// Name implements Backend.
func (NativeBackend) Name() string { return FormatNative }

// Save implements Backend.
func (NativeBackend) Save(dir string, a *Artifact) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	layers := make([]nativeLayer, len(a.Layers))
	for i, l := range a.Layers {
		layers[i] = nativeLayer(l)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, NativeFile), 0o644, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(layers)
	})
}

// Load implements Backend.
func (NativeBackend) Load(dir string) (*Artifact, error) {
	path := filepath.Join(dir, NativeFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewArtifactIOError("open", path, err)
	}
	defer f.Close()

	var layers []nativeLayer
	if err := gob.NewDecoder(f).Decode(&layers); err != nil {
		return nil, errors.NewArtifactIOError("decode", path, err)
	}
	a := &Artifact{Layers: make([]LayerArtifact, len(layers))}
	for i, l := range layers {
		a.Layers[i] = LayerArtifact(l)
	}
	return a, nil
}

// ===========================================================================
//
//	portable: トポロジーは JSON、重みはリトルエンディアンの float32 バッファ
//
// ===========================================================================

// PortableBackend は model.json と weights.bin に分けて保存する
type PortableBackend struct{}

type portableManifest struct {
	FormatVersion int             `json:"formatVersion"`
	DType         string          `json:"dtype"`
	Layers        []portableLayer `json:"layers"`
}

type portableLayer struct {
	LayerArtifact
	// オフセットと長さは weights.bin 内の float32 要素単位
	WeightsOffset int `json:"weightsOffset"`
	BiasOffset    int `json:"biasOffset"`
}

// Name implements Backend.
func (PortableBackend) Name() string { return FormatPortable }

// Save implements Backend.
func (PortableBackend) Save(dir string, a *Artifact) error {
	if err := ensureDir(dir); err != nil {
		return err
	}

	manifest := portableManifest{FormatVersion: 1, DType: "float32"}
	var buf []float32
	for _, l := range a.Layers {
		pl := portableLayer{LayerArtifact: l, WeightsOffset: len(buf)}
		for _, v := range l.Weights {
			buf = append(buf, float32(v))
		}
		pl.BiasOffset = len(buf)
		for _, v := range l.Biases {
			buf = append(buf, float32(v))
		}
		manifest.Layers = append(manifest.Layers, pl)
	}

	if err := fsutil.WriteFileAtomic(filepath.Join(dir, PortableWeightsFile), 0o644, func(w io.Writer) error {
		return binary.Write(w, binary.LittleEndian, buf)
	}); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, PortableTopologyFile), 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	})
}

// Load implements Backend.
func (PortableBackend) Load(dir string) (*Artifact, error) {
	manifestPath := filepath.Join(dir, PortableTopologyFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errors.NewArtifactIOError("read", manifestPath, err)
	}
	var manifest portableManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.NewArtifactIOError("decode", manifestPath, err)
	}

	weightsPath := filepath.Join(dir, PortableWeightsFile)
	raw, err := os.ReadFile(weightsPath)
	if err != nil {
		return nil, errors.NewArtifactIOError("read", weightsPath, err)
	}
	if len(raw)%4 != 0 {
		return nil, errors.NewArtifactIOError("decode", weightsPath, errors.New("weights buffer is not a multiple of 4 bytes"))
	}
	buf := make([]float64, len(raw)/4)
	for i := range buf {
		buf[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}

	a := &Artifact{}
	for i, pl := range manifest.Layers {
		wEnd := pl.WeightsOffset + pl.In*pl.Out
		bEnd := pl.BiasOffset + pl.Out
		if pl.WeightsOffset < 0 || pl.BiasOffset < 0 || wEnd > len(buf) || bEnd > len(buf) {
			return nil, errors.NewArtifactIOError("decode", weightsPath, errors.Newf("layer %d exceeds weights buffer", i))
		}
		l := pl.LayerArtifact
		l.Weights = append([]float64(nil), buf[pl.WeightsOffset:wEnd]...)
		l.Biases = append([]float64(nil), buf[pl.BiasOffset:bEnd]...)
		a.Layers = append(a.Layers, l)
	}
	return a, nil
}
