package bugs

import "github.com/and161185/agentproof/internal/model"

// Bug type identifiers.
const (
	OffByOne               = "off_by_one"
	AssignmentVsComparison = "assignment_vs_comparison"
	MissingNullCheck       = "missing_null_check"
	InfiniteRecursion      = "infinite_recursion"
	WrongReturnType        = "wrong_return_type"
	MissingAwait           = "missing_await"
	InfiniteLoop           = "infinite_loop"
	MutableDefaultArgument = "mutable_default_argument"
	StringImmutability     = "string_immutability"
	LooseEquality          = "loose_equality"
)

// variant is a template for one language. bug is the 1-based line holding the defect.
type variant struct {
	lines []string
	bug   int
	issue string
	fix   string
}

// BugType is a catalog entry: the languages it is offered in, the renderers that exist
// and the keywords a correct diagnosis is expected to mention. A keyword ending in '*'
// is a stem.
type BugType struct {
	Name      string
	Languages []string
	Keywords  []string
	variants  map[string]variant
}

// Catalog maps bug type names to entries and difficulties to eligible types.
type Catalog struct {
	Types map[string]BugType
	Pools map[model.Difficulty][]string
}

var (
	easyPool     = []string{OffByOne, AssignmentVsComparison, MissingNullCheck, LooseEquality}
	standardPool = append(append([]string{}, easyPool...),
		InfiniteRecursion, WrongReturnType, MutableDefaultArgument, StringImmutability)
	hardPool = append(append([]string{}, standardPool...), MissingAwait, InfiniteLoop)
)

// naming convention per language.
var namings = map[string]naming{
	"python":     snake,
	"c":          snake,
	"javascript": camel,
	"java":       camel,
	"go":         camel,
}

// DefaultCatalog is the built-in template table.
var DefaultCatalog = Catalog{
	Pools: map[model.Difficulty][]string{
		model.DifficultyEasy:     easyPool,
		model.DifficultyStandard: standardPool,
		model.DifficultyHard:     hardPool,
	},
	Types: map[string]BugType{
		OffByOne: {
			Name:      OffByOne,
			Languages: []string{"python", "javascript", "go"},
			Keywords:  []string{"off by one", "index", "bounds", "<=", "length", "last element", "out of range"},
			variants: map[string]variant{
				"python": {
					lines: []string{
						"def {fn}({coll}):",
						"    {acc} = 0",
						"    for i in range(len({coll}) + 1):",
						"        if {coll}[i] > {n1}:",
						"            {acc} += {coll}[i] % {n2}",
						"    return {acc}",
					},
					bug:   3,
					issue: "Off-by-one error: range(len({coll}) + 1) runs one index past the last element, so {coll}[len({coll})] is out of range (IndexError); the loop bounds should stop at the length.",
					fix:   "for i in range(len({coll})):",
				},
				"javascript": {
					lines: []string{
						"function {fn}({coll}) {",
						"  let {acc} = 0;",
						"  for (let i = 0; i <= {coll}.length; i++) {",
						"    if ({coll}[i].{field} > {n1}) {",
						"      {acc} += {coll}[i].{field} % {n2};",
						"    }",
						"  }",
						"  return {acc};",
						"}",
					},
					bug:   3,
					issue: "Off-by-one error: the loop condition i <= {coll}.length reads index {coll}.length, one past the last element, which is out of range (undefined); use < length.",
					fix:   "for (let i = 0; i < {coll}.length; i++) {",
				},
				"go": {
					lines: []string{
						"func {fn}({coll} []int) int {",
						"\t{acc} := 0",
						"\tfor i := 0; i <= len({coll}); i++ {",
						"\t\tif {coll}[i] > {n1} {",
						"\t\t\t{acc} += {coll}[i] % {n2}",
						"\t\t}",
						"\t}",
						"\treturn {acc}",
						"}",
					},
					bug:   3,
					issue: "Off-by-one error: the loop condition i <= len({coll}) reads index len({coll}), one past the last element, which is out of range for the slice length and panics.",
					fix:   "for i := 0; i < len({coll}); i++ {",
				},
			},
		},
		AssignmentVsComparison: {
			Name:      AssignmentVsComparison,
			Languages: []string{"javascript", "c"},
			Keywords:  []string{"assignment", "comparison", "==", "===", "condition", "always true", "instead of"},
			variants: map[string]variant{
				"javascript": {
					lines: []string{
						"function {fn}({subj}, {limit}) {",
						"  const {acc} = {subj}.{field} * {n2};",
						"  if ({acc} = {limit}) {",
						"    return true;",
						"  }",
						"  return {acc} > {n1};",
						"}",
					},
					bug:   3,
					issue: "Assignment instead of comparison: the if condition uses = so it assigns {limit} to {acc} and is always true for any truthy value; it should use the === (or ==) comparison.",
					fix:   "if ({acc} === {limit}) {",
				},
				"c": {
					lines: []string{
						"int {fn}(int {sf}, int {limit}) {",
						"    int {acc} = {sf} * {n2};",
						"    if ({acc} = {limit}) {",
						"        return 1;",
						"    }",
						"    return {acc} > {n1};",
						"}",
					},
					bug:   3,
					issue: "Assignment instead of comparison: the if condition uses = so it assigns {limit} to {acc} and is always true whenever {limit} is non-zero; it should use the == comparison operator.",
					fix:   "if ({acc} == {limit}) {",
				},
			},
		},
		MissingNullCheck: {
			Name:      MissingNullCheck,
			Languages: []string{"javascript", "java", "go"},
			Keywords:  []string{"null", "undefined", "nil", "check", "missing", "dereferenc*", "crash*", "exception"},
			variants: map[string]variant{
				"javascript": {
					lines: []string{
						"function {fn}({registry}, id) {",
						"  const {subj} = {registry}.get(id);",
						"  const value = {subj}.{field};",
						"  return value + \"#\" + ({n1} + {n2});",
						"}",
					},
					bug:   3,
					issue: "Missing null check: {registry}.get(id) returns undefined for unknown ids and the code dereferences {subj}.{field} without a check, which throws a TypeError crash.",
					fix:   "if ({subj} == null) return null;",
				},
				"java": {
					lines: []string{
						"public String {fn}(Map<String, {Subj}> {registry}, String id) {",
						"    {Subj} {subj} = {registry}.get(id);",
						"    String value = {subj}.get{Field}();",
						"    return value + \":\" + {n1} + \"/\" + {n2};",
						"}",
					},
					bug:   3,
					issue: "Missing null check: Map.get returns null for an absent key and the code calls get{Field}() on it without a check, a null dereference that crashes with a NullPointerException.",
					fix:   "if ({subj} == null) { return null; }",
				},
				"go": {
					lines: []string{
						"func {fn}({registry} map[string]*{Subj}, id string) string {",
						"\t{subj} := {registry}[id]",
						"\treturn {subj}.{Field} + \"-\" + strconv.Itoa({n1}*{n2})",
						"}",
					},
					bug:   3,
					issue: "Missing nil check: the map lookup yields a nil pointer for an unknown id and the code dereferences {subj}.{Field} without a check, causing a nil pointer panic crash.",
					fix:   "if {subj} == nil { return \"\" }",
				},
			},
		},
		InfiniteRecursion: {
			Name:      InfiniteRecursion,
			Languages: []string{"python", "javascript"},
			Keywords:  []string{"recursion", "recursive", "base case", "infinite", "stack overflow", "never", "terminat*"},
			variants: map[string]variant{
				"python": {
					lines: []string{
						"def {fn}(n, {acc}={n1}):",
						"    # accumulates n mod {n2} for every value down to zero",
						"    if n <= 0:",
						"        return {acc}",
						"    return {fn}(n, {acc} + n % {n2})",
					},
					bug:   5,
					issue: "Infinite recursion: the recursive call passes n unchanged instead of n - 1, so the base case n <= 0 is never reached; it never terminates and ends in a stack overflow (RecursionError).",
					fix:   "return {fn}(n - 1, {acc} + n % {n2})",
				},
				"javascript": {
					lines: []string{
						"function {fn}(n, {acc} = {n1}) {",
						"  // accumulates n mod {n2} for every value down to zero",
						"  if (n <= 0) {",
						"    return {acc};",
						"  }",
						"  return {fn}(n, {acc} + (n % {n2}));",
						"}",
					},
					bug:   6,
					issue: "Infinite recursion: the recursive call passes n unchanged instead of n - 1, so the base case n <= 0 is never reached; it never terminates and ends in a stack overflow (RangeError).",
					fix:   "return {fn}(n - 1, {acc} + (n % {n2}));",
				},
			},
		},
		WrongReturnType: {
			Name:      WrongReturnType,
			Languages: []string{"python", "javascript"},
			Keywords:  []string{"return", "type", "string", "int", "number", "instead of", "concatenat*"},
			variants: map[string]variant{
				"python": {
					lines: []string{
						"def {fn}({coll}):",
						"    \"\"\"Return the filtered total as an int.\"\"\"",
						"    {acc} = sum(x % {n2} for x in {coll} if x > {n1})",
						"    return str({acc})",
					},
					bug:   4,
					issue: "Wrong return type: the docstring promises an int but the function returns a string (str) instead of an int, so callers adding results get string concatenation or a TypeError.",
					fix:   "return {acc}",
				},
				"javascript": {
					lines: []string{
						"/** @returns {number} */",
						"function {fn}({coll}) {",
						"  let {acc} = 0;",
						"  for (const x of {coll}) {",
						"    if (x > {n1}) {acc} += x % {n2};",
						"  }",
						"  return {acc}.toFixed(0);",
						"}",
					},
					bug:   7,
					issue: "Wrong return type: documented to return a number but toFixed returns a string instead of a number, so callers using + do string concatenation.",
					fix:   "return {acc};",
				},
			},
		},
		MissingAwait: {
			Name:      MissingAwait,
			Languages: []string{"javascript", "python"},
			Keywords:  []string{"await", "promise", "async", "coroutine", "missing", "pending", "resolved"},
			variants: map[string]variant{
				"javascript": {
					lines: []string{
						"async function {fn}(client, id) {",
						"  const {subj} = client.fetch{Subj}(id);",
						"  if ({subj}.{field} > {n1}) {",
						"    return {subj}.{field} % {n2};",
						"  }",
						"  return 0;",
						"}",
					},
					bug:   2,
					issue: "Missing await: the async call returns a Promise that is never awaited, so {subj}.{field} is read from a pending promise instead of the resolved value.",
					fix:   "const {subj} = await client.fetch{Subj}(id);",
				},
				"python": {
					lines: []string{
						"async def {fn}(client, {subj}_id):",
						"    {subj} = client.fetch_{subj}({subj}_id)",
						"    if {subj}.{field} > {n1}:",
						"        return {subj}.{field} % {n2}",
						"    return 0",
					},
					bug:   2,
					issue: "Missing await: the async coroutine fetch_{subj} is called without await, so {subj} is a coroutine object rather than the resolved result and the attribute access fails.",
					fix:   "{subj} = await client.fetch_{subj}({subj}_id)",
				},
			},
		},
		InfiniteLoop: {
			Name:      InfiniteLoop,
			Languages: []string{"python", "javascript", "go"},
			Keywords:  []string{"infinite loop", "increment*", "never", "terminat*", "condition", "counter", "loop"},
			variants: map[string]variant{
				"python": {
					lines: []string{
						"def {fn}({coll}):",
						"    {acc} = 0",
						"    {i} = 0",
						"    while {i} < len({coll}):",
						"        if {coll}[{i}] > {n1}:",
						"            {acc} += {coll}[{i}] % {n2}",
						"    return {acc}",
					},
					bug:   4,
					issue: "Infinite loop: the loop counter {i} is never incremented, so the condition {i} < len({coll}) stays true and the loop never terminates.",
					fix:   "add {i} += 1 at the end of the loop body",
				},
				"javascript": {
					lines: []string{
						"function {fn}({coll}) {",
						"  let {acc} = 0;",
						"  let {i} = 0;",
						"  while ({i} < {coll}.length) {",
						"    if ({coll}[{i}] > {n1}) {",
						"      {acc} += {coll}[{i}] % {n2};",
						"    }",
						"  }",
						"  return {acc};",
						"}",
					},
					bug:   4,
					issue: "Infinite loop: the loop counter {i} is never incremented, so the condition {i} < {coll}.length stays true and the loop never terminates.",
					fix:   "add {i}++ at the end of the loop body",
				},
				"go": {
					lines: []string{
						"func {fn}({coll} []int) int {",
						"\t{acc} := 0",
						"\t{i} := 0",
						"\tfor {i} < len({coll}) {",
						"\t\tif {coll}[{i}] > {n1} {",
						"\t\t\t{acc} += {coll}[{i}] % {n2}",
						"\t\t}",
						"\t}",
						"\treturn {acc}",
						"}",
					},
					bug:   4,
					issue: "Infinite loop: the loop counter {i} is never incremented, so the condition {i} < len({coll}) stays true and the loop never terminates.",
					fix:   "add {i}++ at the end of the loop body",
				},
			},
		},
		MutableDefaultArgument: {
			Name:      MutableDefaultArgument,
			Languages: []string{"python"},
			Keywords:  []string{"mutable", "default", "argument", "shared", "list", "none", "calls"},
			variants: map[string]variant{
				"python": {
					lines: []string{
						"def {fn}({subj}, {coll}=[]):",
						"    if {subj} > {n1}:",
						"        {coll}.append({subj} % {n2})",
						"    return {coll}",
					},
					bug:   1,
					issue: "Mutable default argument: the default list is created once and shared between calls, so values accumulate across calls; use None as the default and create a new list inside.",
					fix:   "def {fn}({subj}, {coll}=None):",
				},
			},
		},
		StringImmutability: {
			Name:      StringImmutability,
			Languages: []string{"python", "java"},
			Keywords:  []string{"immutable", "string", "assignment", "new string", "modify", "in place", "return"},
			variants: map[string]variant{
				"python": {
					lines: []string{
						"def {fn}({sf}):",
						"    if len({sf}) > {n1}:",
						"        {sf} = {sf}[:{n1}]",
						"    {sf}[0] = {sf}[0].upper()",
						"    return {sf} + \"#{n2}\"",
					},
					bug:   4,
					issue: "Strings are immutable: item assignment on a string raises TypeError, so you cannot modify it in place; build a new string and return it instead.",
					fix:   "{sf} = {sf}[:1].upper() + {sf}[1:]",
				},
				"java": {
					lines: []string{
						"public String {fn}(String {sf}) {",
						"    if ({sf}.length() > {n1}) {",
						"        {sf} = {sf}.substring(0, {n1});",
						"    }",
						"    {sf}.toUpperCase();",
						"    return {sf} + \"#{n2}\";",
						"}",
					},
					bug:   5,
					issue: "Strings are immutable: toUpperCase() returns a new string and the result is discarded, so {sf} is not changed in place; assign the return value.",
					fix:   "{sf} = {sf}.toUpperCase();",
				},
			},
		},
		LooseEquality: {
			Name:      LooseEquality,
			Languages: []string{"javascript"},
			Keywords:  []string{"loose", "equality", "==", "===", "coercion", "type", "strict"},
			variants: map[string]variant{
				"javascript": {
					lines: []string{
						"function {fn}({subj}) {",
						"  const raw = {subj}.{field} ?? \"\";",
						"  if (raw == 0) {",
						"    return {n1};",
						"  }",
						"  return Number(raw) % {n2};",
						"}",
					},
					bug:   3,
					issue: "Loose equality: raw == 0 uses type coercion, so an empty string (or \"0\") compares equal to 0; use strict equality === with an explicit type check instead.",
					fix:   "if (raw === 0) {",
				},
			},
		},
	},
}
