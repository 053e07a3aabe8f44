package prompt

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{
		"Box_Classification_Scene",
		"Object_Detection",
		"Object_Segmentation",
		"Refexp",
		"VQA_short_prompt",
		"image_caption_coco_2017",
	}, r.Tasks())
	assert.Same(t, r, Default(), "built once")

	refexp, err := r.Lookup("Refexp")
	require.NoError(t, err)
	assert.Equal(t, []string{`Which region does the text "{}" describe?`}, refexp.Original)
	assert.Len(t, refexp.Manual, 13)
	assert.Equal(t, "Expression: {}\nInstruction: Return the region in the image that matches the expression", refexp.Manual[0])
	assert.Equal(t, "For the expression '{}', what image region matches it?", refexp.Manual[9])

	box, err := r.Lookup("Box_Classification_Scene")
	require.NoError(t, err)
	assert.Equal(t, 1+15+24, box.Len())

	vqa, err := r.Lookup("VQA_short_prompt")
	require.NoError(t, err)
	assert.Empty(t, vqa.Original)
	assert.Len(t, vqa.Manual, 13)

	_, err = r.Lookup("Depth_Estimation")
	assert.ErrorIs(t, err, ErrNoPrompts)
}

func TestCandidatesOrder(t *testing.T) {
	r, err := Parse([]byte(`
task:
  original: [t-orig]
  manual: [t-man]
  gpt3: [t-gpt]
data:
  original: [d-orig]
  manual: [d-man]
  gpt3: [d-gpt]
`))
	require.NoError(t, err)

	p := &Prompter{Registry: r, Original: true, Manual: true, GPT3: true}
	assert.Equal(t, []string{"t-orig", "t-man", "d-man", "t-gpt", "d-gpt"}, p.Candidates("task", "data"))

	p.Original = false
	p.GPT3 = false
	assert.Equal(t, []string{"t-man", "d-man"}, p.Candidates("task", "data"))
	assert.Equal(t, []string{"t-man"}, p.Candidates("task", ""))
}

func TestRandom(t *testing.T) {
	p := NewPrompter()
	rng := rand.New(rand.NewPCG(1, 2))

	candidates := p.Candidates("image_caption_coco_2017", "")
	require.Len(t, candidates, 20)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		s, err := p.Random("image_caption_coco_2017", "", rng)
		require.NoError(t, err)
		assert.Contains(t, candidates, s)
		seen[s] = true
	}
	assert.Greater(t, len(seen), 10)

	p.Single = true
	s, err := p.Random("Object_Detection", "", rng)
	require.NoError(t, err)
	assert.Equal(t, `Return the bounding boxes and categories of region matching "{}"`, s)

	_, err = p.Random("unknown", "also_unknown", rng)
	assert.ErrorIs(t, err, ErrNoPrompts)

	onlyOriginal := &Prompter{Original: true}
	_, err = onlyOriginal.Random("VQA_short_prompt", "", rng)
	assert.ErrorIs(t, err, ErrNoPrompts)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("task:\n  originals: [x]\n"))
	assert.Error(t, err)
}
