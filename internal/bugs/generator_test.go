package bugs

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/agentproof/internal/model"
)

func seeded(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }

var placeholders = []string{
	"{fn}", "{coll}", "{subj}", "{Subj}", "{acc}", "{limit}", "{registry}",
	"{sf}", "{field}", "{Field}", "{i}", "{n1}", "{n2}",
}

func TestGenerate_UniqueAndSelfValidating(t *testing.T) {
	t.Parallel()

	for _, d := range []model.Difficulty{model.DifficultyEasy, model.DifficultyStandard, model.DifficultyHard} {
		rng := seeded(42)
		seen := make(map[string]struct{}, 1000)
		for i := range 1000 {
			dc, err := Generate(rng, d)
			require.NoError(t, err)

			_, dup := seen[dc.Code]
			require.False(t, dup, "duplicate code at generation %d (%s)", i, d)
			seen[dc.Code] = struct{}{}

			require.True(t, ValidateAnswer(dc, dc.Answer.Line, dc.Answer.Issue),
				"answer key rejected: %s/%s: %q", dc.BugType, dc.Language, dc.Answer.Issue)
			require.Contains(t, DefaultCatalog.Pools[d], dc.BugType)
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := Generate(seeded(7), model.DifficultyHard)
	require.NoError(t, err)
	b, err := Generate(seeded(7), model.DifficultyHard)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestGenerate_PoolsNested(t *testing.T) {
	t.Parallel()

	easy := DefaultCatalog.Pools[model.DifficultyEasy]
	std := DefaultCatalog.Pools[model.DifficultyStandard]
	hard := DefaultCatalog.Pools[model.DifficultyHard]
	for _, bt := range easy {
		require.Contains(t, std, bt)
	}
	for _, bt := range std {
		require.Contains(t, hard, bt)
	}
	require.Contains(t, hard, MissingAwait)
	require.NotContains(t, std, MissingAwait)
	require.NotContains(t, easy, InfiniteRecursion)
}

func TestCatalog_AllVariantsRender(t *testing.T) {
	t.Parallel()

	rng := seeded(1)
	for name, bt := range DefaultCatalog.Types {
		require.Len(t, bt.variants, len(bt.Languages), name)
		for _, lang := range bt.Languages {
			v, ok := bt.variants[lang]
			require.True(t, ok, "%s has no %s renderer", name, lang)
			dc := render(name, lang, v, draw(rng).replacer(namings[lang]))

			lines := strings.Split(dc.Code, "\n")
			require.GreaterOrEqual(t, dc.Answer.Line, 1)
			require.LessOrEqual(t, dc.Answer.Line, len(lines))
			for _, ph := range placeholders {
				require.NotContains(t, dc.Code, ph, "%s/%s", name, lang)
				require.NotContains(t, dc.Answer.Issue, ph, "%s/%s", name, lang)
				require.NotContains(t, dc.Answer.Fix, ph, "%s/%s", name, lang)
			}
			require.True(t, ValidateAnswer(dc, dc.Answer.Line, dc.Answer.Issue), "%s/%s", name, lang)
		}
	}
	require.Len(t, DefaultCatalog.Types, 10)
}

func TestGenerate_RetriesMissingRenderer(t *testing.T) {
	t.Parallel()

	base := DefaultCatalog.Types[OffByOne]
	broken := base
	broken.Languages = []string{"cobol", "python"}
	cat := Catalog{
		Types: map[string]BugType{OffByOne: broken},
		Pools: map[model.Difficulty][]string{model.DifficultyEasy: {OffByOne}},
	}
	for seed := range uint64(20) {
		dc, err := cat.Generate(seeded(seed), model.DifficultyEasy)
		if err != nil {
			// eight consecutive cobol draws; allowed but must be the bounded error
			require.Contains(t, err.Error(), "no renderer")
			continue
		}
		require.Equal(t, "python", dc.Language)
	}

	onlyBroken := Catalog{
		Types: map[string]BugType{OffByOne: {Name: OffByOne, Languages: []string{"cobol"}, Keywords: base.Keywords}},
		Pools: map[model.Difficulty][]string{model.DifficultyEasy: {OffByOne}},
	}
	_, err := onlyBroken.Generate(seeded(3), model.DifficultyEasy)
	require.Error(t, err)

	_, err = cat.Generate(seeded(3), model.DifficultyHard)
	require.Error(t, err)
}

func TestMatcher_Grade(t *testing.T) {
	t.Parallel()

	dc, err := Generate(seeded(99), model.DifficultyEasy)
	require.NoError(t, err)
	line := dc.Answer.Line

	require.True(t, ValidateAnswer(dc, line+1, dc.Answer.Issue))
	require.True(t, ValidateAnswer(dc, line-1, strings.ToUpper(dc.Answer.Issue)))
	require.False(t, ValidateAnswer(dc, line+2, dc.Answer.Issue))
	require.False(t, ValidateAnswer(dc, line, "there is a bug somewhere in this code"))
	require.False(t, ValidateAnswer(dc, line, ""))

	unknown := dc
	unknown.BugType = "quantum_entanglement"
	require.False(t, ValidateAnswer(unknown, line, dc.Answer.Issue))
}

func TestMatcher_ParaphrasedDiagnosis(t *testing.T) {
	t.Parallel()

	dc := model.DynamicChallenge{BugType: OffByOne, Answer: model.AnswerKey{Line: 3}}
	require.True(t, ValidateAnswer(dc, 3, "Classic off-by-one: the <= lets the index run past the last element."))
	require.False(t, ValidateAnswer(dc, 3, "the index is wrong"))

	v := DefaultMatcher.Grade(dc, 3, "off by one index")
	require.Equal(t, 3, v.Required) // ceil(0.4 * 7)
	require.Equal(t, 2, v.Hits)
	require.False(t, v.Passed)

	strict := Matcher{Ratio: 0.9, MinHits: 2, LineTolerance: 0}
	require.Equal(t, 7, strict.required(7))
	lenient := Matcher{Ratio: 0.1, MinHits: 2, LineTolerance: 0}
	require.Equal(t, 2, lenient.required(7))
	require.False(t, lenient.Grade(dc, 4, "off by one index").Passed)
}

func TestPools_NoDuplicates(t *testing.T) {
	t.Parallel()

	for _, pool := range [][]string{verbs[:], subjects[:], suffixes[:], fields[:], counters[:]} {
		cp := slices.Clone(pool)
		slices.Sort(cp)
		require.Equal(t, len(cp), len(slices.Compact(cp)))
	}
	require.Equal(t, "computeOrderList", camel("compute", "order", "list"))
	require.Equal(t, "compute_order_list", snake("compute", "order", "list"))
}

func TestMatcher_OverlappingKeywordsCountOnce(t *testing.T) {
	t.Parallel()

	loose := model.DynamicChallenge{BugType: LooseEquality, Answer: model.AnswerKey{Line: 3}}
	v := DefaultMatcher.Grade(loose, 3, "should be === typeerror")
	require.Equal(t, 1, v.Hits)
	require.False(t, v.Passed)

	v = DefaultMatcher.Grade(loose, 3, "loose == instead of strict ===, type coercion")
	require.Equal(t, 6, v.Hits)
	require.True(t, v.Passed)

	loop := model.DynamicChallenge{BugType: InfiniteLoop, Answer: model.AnswerKey{Line: 2}}
	require.Equal(t, 1, DefaultMatcher.Grade(loop, 2, "infinite loop").Hits)
	require.Equal(t, 2, DefaultMatcher.Grade(loop, 2, "infinite loop, the loop").Hits)
	require.Equal(t, 3, DefaultMatcher.Grade(loop, 2, "counter never incremented").Hits)
	require.Equal(t, 2, DefaultMatcher.Grade(loop, 2, "it never terminates, never").Hits)

	ret := model.DynamicChallenge{BugType: WrongReturnType, Answer: model.AnswerKey{Line: 1}}
	require.Equal(t, 0, DefaultMatcher.Grade(ret, 1, "TypeError: stringify returned integer").Hits)
	require.Equal(t, 2, DefaultMatcher.Grade(ret, 1, "string concatenation").Hits)
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	require.Equal(t,
		[]string{"off", "by", "one", "i", "<=", "n", "a", "===", "b", "snake", "case"},
		tokenize("Off-by-one: i<=n; a === b (snake_case)"))
	require.Empty(t, tokenize(" -_.,; "))
}
