// Package command maps a (language, source) pair to the command line that
// compiles and runs the source inside a language container.
//
// Languages form a closed set. Interpreted languages receive the source as an
// inline interpreter argument; compiled languages have the source written
// into the container's working directory, wrapped in a minimal program when
// it lacks an entry point, then compiled and executed.
//
// Usage:
//
//	lang, err := command.ParseLanguage("js")
//	if err != nil {
//	    return err
//	}
//	argv, err := command.Build(lang, "console.log(1+1)")
package command
