// Package corpus holds the sample programs submitted by simulated sessions.
//
// A [Registry] maps each language to an ordered list of [Program] values. It is
// built once at startup, either from the embedded default corpus ([Builtin]) or
// from a YAML file ([Load]), and is read-only afterwards:
//
//	reg, err := corpus.Builtin()
//	if err != nil {
//		return err
//	}
//	for _, a := range reg.Assign(6) {
//		fmt.Println(a.Language, a.Program.Name)
//	}
//
// # Assignment
//
// [Registry.Assign] distributes programs round-robin: session i gets language
// languages[i mod L] and, within that language, program programs[i mod P].
// The result depends only on the registry contents and the session count.
package corpus
