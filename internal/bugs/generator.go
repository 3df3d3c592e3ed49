// Package bugs procedurally renders find-the-bug snippets from parameterized templates
// and grades diagnoses against the bug type's keyword set.
package bugs

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/and161185/agentproof/internal/model"
)

// MaxDraws caps redraws when a chosen language has no renderer.
const MaxDraws = 8

// Generate renders a fresh challenge from the default catalog.
func Generate(rng *rand.Rand, d model.Difficulty) (model.DynamicChallenge, error) {
	return DefaultCatalog.Generate(rng, d)
}

// Generate picks a bug type and language uniformly from the difficulty pool and renders
// them with a fresh parameter draw. The result depends only on rng.
func (c Catalog) Generate(rng *rand.Rand, d model.Difficulty) (model.DynamicChallenge, error) {
	pool := c.Pools[d]
	if len(pool) == 0 {
		return model.DynamicChallenge{}, fmt.Errorf("no bug types for difficulty %q", d)
	}
	for range MaxDraws {
		bt, ok := c.Types[pick(rng, pool)]
		if !ok || len(bt.Languages) == 0 {
			continue
		}
		lang := pick(rng, bt.Languages)
		v, ok := bt.variants[lang]
		name, okName := namings[lang]
		if !ok || !okName {
			continue
		}
		return render(bt.Name, lang, v, draw(rng).replacer(name)), nil
	}
	return model.DynamicChallenge{}, fmt.Errorf("no renderer after %d draws for difficulty %q", MaxDraws, d)
}

func render(bugType, lang string, v variant, r *strings.Replacer) model.DynamicChallenge {
	lines := make([]string, len(v.lines))
	for i, l := range v.lines {
		lines[i] = r.Replace(l)
	}
	return model.DynamicChallenge{
		BugType:  bugType,
		Language: lang,
		Code:     strings.Join(lines, "\n"),
		Answer: model.AnswerKey{
			Line:  v.bug,
			Issue: r.Replace(v.issue),
			Fix:   r.Replace(v.fix),
		},
	}
}
