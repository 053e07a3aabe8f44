package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/config"
	"github.com/born-ml/multimodal/internal/loader"
	"github.com/born-ml/multimodal/internal/nn"
	"github.com/born-ml/multimodal/internal/prompt"
	"github.com/born-ml/multimodal/internal/seq"
	"github.com/born-ml/multimodal/internal/tensor"
)

// Checkpoint key prefixes of the modules written by init.
const (
	attentionPrefix = "attention/"
	mlpPrefix       = "mlp/"
	textPrefix      = "text/"
)

func parseGrid(s string) (h, w int, err error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("grid %q must look like HxW", s)
	}
	if h, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, errors.Wrapf(err, "grid height in %q", s)
	}
	if w, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, errors.Wrapf(err, "grid width in %q", s)
	}
	if h <= 0 || w <= 0 {
		return 0, 0, errors.Errorf("grid %q must be positive", s)
	}
	return h, w, nil
}

func runRope(args []string) error {
	fs := flag.NewFlagSet("rope", flag.ExitOnError)
	length := fs.Int("len", 16, "Sequence length of a 1-D cache.")
	channels := fs.Int("channels", 64, "Rotary channels (head dim).")
	grid := fs.String("grid", "", "Build a 2-D cache for an HxW grid instead, e.g. 24x24.")
	resolution := fs.Float64("resolution", 1, "Scale of 2-D coordinates.")
	base := fs.Float64("base", nn.DefaultRopeBase, "Frequency base.")
	rows := fs.Int("rows", 4, "Number of leading cache rows to print.")
	_ = fs.Parse(args)

	var cache *tensor.Tensor
	kind := "1-D"
	if *grid != "" {
		h, w, err := parseGrid(*grid)
		if err != nil {
			return err
		}
		if *channels%4 != 0 {
			return errors.Errorf("2-D caches need channels divisible by 4, got %d", *channels)
		}
		cache = nn.BuildRopeCache2D(h, w, *channels, *base, *resolution)
		kind = fmt.Sprintf("2-D %dx%d", h, w)
	} else {
		if *length <= 0 || *channels <= 0 || *channels%2 != 0 {
			return errors.Errorf("need a positive length and positive even channels, got %d and %d", *length, *channels)
		}
		cache = nn.BuildRopeCache1D(*length, *channels, *base)
	}

	lo, hi := cache.MinMax()
	fmt.Println(titleStyle.Render("Rotary cache"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("kind", kind)
	table.Row("shape", fmt.Sprint(cache.Shape()))
	table.Row("range", fmt.Sprintf("[%.4f, %.4f]", lo, hi))
	table.Row("bytes", humanize.Bytes(uint64(cache.NumElements()*cache.DType().Size()))) //nolint:gosec // non-negative
	fmt.Println(table.Render())

	n := min(*rows, cache.Dim(0))
	if n <= 0 {
		return nil
	}
	shown := min(cache.Dim(1), 8)
	fmt.Println(titleStyle.Render(fmt.Sprintf("First %d rows (cos, sin pairs)", n)))
	rowsTable := newPlainTable(lipgloss.Right)
	headers := []string{"row"}
	for c := 0; c < shown; c++ {
		headers = append(headers, strconv.Itoa(c))
	}
	rowsTable.Headers(headers...)
	for r := 0; r < n; r++ {
		cells := []string{strconv.Itoa(r)}
		for c := 0; c < shown; c++ {
			cells = append(cells, fmt.Sprintf("%.4f", cache.At(r, c)))
		}
		rowsTable.Row(cells...)
	}
	fmt.Println(rowsTable.Render())
	return nil
}

// modules is the set of components a model config describes.
type modules struct {
	cfg  config.ModelConfig
	attn *nn.MultiHeadAttention
	mlp  *nn.MLPBlock
	text *seq.TextEmbedder
}

func buildModules(cfg config.ModelConfig) (*modules, error) {
	attn, err := nn.NewMultiHeadAttention(cfg.Attention())
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	mlp, err := nn.NewMLPBlock(cfg.MLP())
	if err != nil {
		return nil, errors.Wrap(err, "mlp")
	}
	text, err := seq.NewTextEmbedder(cfg.TextEmbedder())
	if err != nil {
		return nil, errors.Wrap(err, "text embedder")
	}
	return &modules{cfg: cfg, attn: attn, mlp: mlp, text: text}, nil
}

func (m *modules) stateDict() loader.MapSource {
	return loader.MapSource{}.Merge(
		m.attn.StateDict(attentionPrefix),
		m.mlp.StateDict(mlpPrefix),
		m.text.StateDict(textPrefix),
	)
}

func (m *modules) loadWeights(src nn.ParamSource) error {
	if err := m.attn.LoadWeights(src, attentionPrefix); err != nil {
		return err
	}
	if err := m.mlp.LoadWeights(src, mlpPrefix); err != nil {
		return err
	}
	return m.text.LoadWeights(src, textPrefix)
}

func loadConfig(path string) config.ModelConfig {
	if path == "" {
		klog.V(1).Info("no -config given, using defaults")
		return config.Default()
	}
	return must.M1(config.Load(path))
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "Model config YAML. Defaults are used if empty.")
	out := fs.String("out", "weights.safetensors", "Output checkpoint.")
	seed := fs.Uint64("seed", 0, "Overrides the config seed if non-zero.")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *seed != 0 {
		cfg.Seed = *seed
	}
	m := must.M1(buildModules(cfg))
	cfgYAML := must.M1(cfg.Marshal())

	state := m.stateDict()
	if err := loader.WriteSafeTensors(*out, state, map[string]string{
		"format": "uioattn",
		"config": string(cfgYAML),
	}); err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Checkpoint"))
	table := newPlainTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Module", "# tensors", "# parameters", "Bytes")
	for _, row := range []struct {
		name   string
		module nn.Module
		keys   int
	}{
		{"attention", m.attn, len(m.attn.StateDict(""))},
		{"mlp", m.mlp, len(m.mlp.StateDict(""))},
		{"text", m.text, len(m.text.StateDict(""))},
	} {
		table.Row(row.name, strconv.Itoa(row.keys),
			humanize.Comma(int64(nn.CountParameters(row.module))),
			humanize.Bytes(nn.ParameterBytes(row.module)))
	}
	fmt.Println(table.Render())
	fmt.Printf("wrote %d tensors to %s\n", len(state), *out)
	return nil
}

func runAttend(args []string) error {
	fs := flag.NewFlagSet("attend", flag.ExitOnError)
	configPath := fs.String("config", "", "Model config YAML. Defaults are used if empty.")
	weights := fs.String("weights", "", "Checkpoint written by 'init'. Random weights if empty.")
	batch := fs.Int("batch", 1, "Batch size.")
	length := fs.Int("len", 8, "Sequence length.")
	causal := fs.Bool("causal", false, "Apply a causal mask.")
	seed := fs.Uint64("seed", 1, "Seed of the random input.")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	m := must.M1(buildModules(cfg))
	if *weights != "" {
		r := must.M1(loader.OpenSafeTensors(*weights))
		defer func() { _ = r.Close() }()
		if err := r.Verify(); err != nil {
			return errors.Wrapf(err, "verifying %s", *weights)
		}
		if err := m.loadWeights(r); err != nil {
			return errors.Wrapf(err, "loading %s", *weights)
		}
	}
	if *batch <= 0 || *length <= 0 {
		return errors.Errorf("batch and length must be positive, got %d and %d", *batch, *length)
	}

	dtype := must.M1(cfg.DataType())
	x := tensor.Randn(tensor.Shape{*batch, *length, cfg.EmbedDim}, tensor.NewSource(*seed)).Cast(dtype)
	rope, err := nn.PositionEmbedding1D(nn.PosEmbType(cfg.TextPosEmb), *length, cfg.HeadDim)
	if err != nil {
		return err
	}
	in := nn.AttentionInputs{QRotary: rope, KRotary: rope}
	if *causal {
		in.Mask = nn.MakeCausalMask(*batch, *length)
	}

	attended, attnWeights := m.attn.ForwardWithWeights(x, x, in)
	out := m.mlp.Forward(tensor.Add(x, attended).Cast(dtype))
	lo, hi := out.MinMax()

	fmt.Println(titleStyle.Render("Attention (batch 0, mean over heads)"))
	table := newPlainTable(lipgloss.Right)
	table.Headers("Query", "Top key", "Top weight", "Mass on earlier keys", "Entropy")
	for _, r := range queryStats(attnWeights, 0) {
		table.Row(strconv.Itoa(r.query), strconv.Itoa(r.topKey),
			fmt.Sprintf("%.4f", r.topWeight), fmt.Sprintf("%.4f", r.earlier), fmt.Sprintf("%.4f", r.entropy))
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Output"))
	summary := newPlainTable(lipgloss.Right, lipgloss.Left)
	summary.Row("shape", fmt.Sprint(out.Shape()))
	summary.Row("dtype", out.DType().String())
	summary.Row("range", fmt.Sprintf("[%.4f, %.4f]", lo, hi))
	summary.Row("mean", fmt.Sprintf("%.4f", out.Sum()/float64(out.NumElements())))
	fmt.Println(summary.Render())
	return nil
}

type queryStat struct {
	query, topKey      int
	topWeight, earlier float64
	entropy            float64
}

// queryStats summarizes head-averaged attention weights [B, H, Lq, Lk] of
// one batch element.
func queryStats(weights *tensor.Tensor, b int) []queryStat {
	heads, lq, lk := weights.Dim(1), weights.Dim(2), weights.Dim(3)
	stats := make([]queryStat, lq)
	row := make([]float64, lk)
	for i := 0; i < lq; i++ {
		clear(row)
		for h := 0; h < heads; h++ {
			for j := 0; j < lk; j++ {
				row[j] += float64(weights.At(b, h, i, j)) / float64(heads)
			}
		}
		s := queryStat{query: i}
		for j, w := range row {
			if w > s.topWeight {
				s.topWeight, s.topKey = w, j
			}
			if j < i {
				s.earlier += w
			}
			if w > 0 {
				s.entropy -= w * math.Log(w)
			}
		}
		stats[i] = s
	}
	return stats
}

func runPrompt(args []string) error {
	fs := flag.NewFlagSet("prompt", flag.ExitOnError)
	task := fs.String("task", "", "Task name. Lists the tasks if empty.")
	dataset := fs.String("dataset", "", "Dataset name contributing extra prompts.")
	single := fs.Bool("single", false, "Always return the first candidate.")
	all := fs.Bool("all", false, "Print every candidate instead of sampling one.")
	seed := fs.Uint64("seed", 0, "Sampling seed.")
	_ = fs.Parse(args)

	reg := prompt.Default()
	if *task == "" {
		table := newPlainTable(lipgloss.Left, lipgloss.Right)
		table.Headers("Task", "# prompts")
		for _, name := range reg.Tasks() {
			e := must.M1(reg.Lookup(name))
			table.Row(name, strconv.Itoa(e.Len()))
		}
		fmt.Println(table.Render())
		return nil
	}

	p := prompt.NewPrompter()
	p.Single = *single
	if *all {
		candidates := p.Candidates(*task, *dataset)
		if len(candidates) == 0 {
			return errors.Wrapf(prompt.ErrNoPrompts, "for %s/%s", *task, *dataset)
		}
		for _, c := range candidates {
			fmt.Println(c)
		}
		return nil
	}
	s, err := p.Random(*task, *dataset, rand.New(rand.NewPCG(*seed, *seed+1)))
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}
