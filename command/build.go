package command

import (
	"fmt"
	"strings"
)

// CommandLine is the argv of an exec instance
type CommandLine []string

// Shell is the interpreter used for multi-step command lines
const Shell = "/bin/sh"

// template describes how one compiled language is prepared and run.
// Source files are written relative to the exec working directory.
type template struct {
	file   string
	marker string
	header string
	wrap   string
	run    string
}

var templates = map[Language]template{
	TypeScript: {
		file: "script.ts",
		wrap: `import { createRequire } from 'module';
const require = createRequire(import.meta.url);

async function runCode() {
  try {
%s
  } catch (error) {
    console.error('Runtime error:', error);
  }
}

runCode().catch(error => console.error('Execution error:', error));
`,
		run: "ts-node --esm script.ts",
	},
	Go: {
		file:   "main.go",
		marker: "func main(",
		wrap: `package main

import "fmt"

var _ = fmt.Sprint

func main() {
%s
}
`,
		run: "go run main.go",
	},
	Rust: {
		file:   "main.rs",
		marker: "fn main",
		wrap: `fn main() {
%s
}
`,
		run: "rustc -O -o main main.rs && ./main",
	},
	C: {
		file:   "main.c",
		marker: "main",
		header: "#include <stdio.h>\n#include <stdlib.h>\n#include <string.h>\n#include <math.h>\n\n",
		wrap: `int main(void) {
%s
    return 0;
}
`,
		run: "gcc -O2 -o main main.c -lm && ./main",
	},
	CPP: {
		file:   "main.cpp",
		marker: "main",
		header: "#include <iostream>\n#include <string>\n#include <vector>\n#include <algorithm>\nusing namespace std;\n\n",
		wrap: `int main() {
%s
    return 0;
}
`,
		run: "g++ -O2 -std=c++17 -o main main.cpp && ./main",
	},
	CSharp: {
		file:   "Program.cs",
		marker: "class Program",
		wrap: `using System;
using System.Collections.Generic;
using System.Linq;

public class Program
{
    public static void Main()
    {
        try
        {
%s
        }
        catch (Exception ex)
        {
            Console.Error.WriteLine($"Runtime error: {ex.Message}");
        }
    }
}
`,
		run: "dotnet run --no-restore",
	},
	Zig: {
		file:   "main.zig",
		marker: "pub fn main",
		wrap: `const std = @import("std");
const stdout = std.io.getStdOut().writer();

pub fn main() !void {
    {
%s
    }
}
`,
		run: "zig build-exe main.zig -O ReleaseSmall && ./main",
	},
}

// Build returns the command line that runs source as a program in lang.
// It performs no I/O.
func Build(lang Language, source string) (CommandLine, error) {
	switch lang {
	case JavaScript:
		return CommandLine{"node", "-e", source}, nil
	case Python:
		return CommandLine{"python3", "-c", source}, nil
	}

	tmpl, ok := templates[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	program := tmpl.render(source)
	script := fmt.Sprintf("printf '%%s' %s > %s && %s", Quote(program), tmpl.file, tmpl.run)

	return CommandLine{Shell, "-c", script}, nil
}

// render wraps source in the boilerplate program when the entry-point marker
// is missing. An empty marker means the source is always wrapped.
func (t template) render(source string) string {
	program := source
	if t.marker == "" || !strings.Contains(source, t.marker) {
		program = fmt.Sprintf(t.wrap, source)
	} else if t.file == "main.go" && !strings.Contains(source, "package ") {
		program = "package main\n\n" + source
	}
	return t.header + program
}

// Quote returns s as a single POSIX shell word
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
