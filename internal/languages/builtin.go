package languages

import (
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const htmlTemplate = `<div class="container">
  <h1>Hello, InstantPreview!</h1>
  <p>Edit the HTML, CSS and JavaScript buffers and press Run.</p>
  <button id="greet">Click me</button>
  <p id="output"></p>
</div>
`

const cssTemplate = `body {
  font-family: system-ui, sans-serif;
  margin: 0;
  padding: 2rem;
  background: #f7f7fb;
  color: #222;
}

.container {
  max-width: 40rem;
  margin: 0 auto;
}

button {
  padding: 0.5rem 1rem;
  border: none;
  border-radius: 4px;
  background: #4f46e5;
  color: #fff;
  cursor: pointer;
}
`

const jsTemplate = `document.getElementById("greet").addEventListener("click", () => {
  document.getElementById("output").textContent = "Hello from JavaScript!";
});
`

var builtin = []*Language{
	{
		Tag: "html", Name: "HTML", Icon: "html5", Class: ClassWeb,
		Extensions: []string{".html", ".htm"}, Aliases: []string{"htm"},
		Template: htmlTemplate, grammar: html.GetLanguage,
	},
	{
		Tag: "css", Name: "CSS", Icon: "css3", Class: ClassWeb,
		Extensions: []string{".css"},
		Template:   cssTemplate, grammar: css.GetLanguage,
	},
	{
		Tag: "javascript", Name: "JavaScript", Icon: "javascript", Class: ClassWeb,
		Extensions: []string{".js", ".mjs", ".cjs"}, Aliases: []string{"js", "node", "ecmascript"},
		Template: jsTemplate, grammar: javascript.GetLanguage,
	},
	{
		Tag: "typescript", Name: "TypeScript", Icon: "typescript", Class: ClassInterpreted,
		Extensions: []string{".ts"}, Aliases: []string{"ts"},
		Template: "const greeting: string = \"Hello, World!\";\nconsole.log(greeting);\n",
		grammar:  typescript.GetLanguage,
	},
	{
		Tag: "python", Name: "Python", Icon: "python", Class: ClassInterpreted,
		Extensions: []string{".py"}, Aliases: []string{"py", "python3"},
		Template: "# Python example\ndef greet(name):\n    return f\"Hello, {name}!\"\n\nprint(greet(\"World\"))\n",
		grammar:  python.GetLanguage,
	},
	{
		Tag: "ruby", Name: "Ruby", Icon: "ruby", Class: ClassInterpreted,
		Extensions: []string{".rb"}, Aliases: []string{"rb"},
		Template: "# Ruby example\nputs \"Hello, World!\"\n",
		grammar:  ruby.GetLanguage,
	},
	{
		Tag: "php", Name: "PHP", Icon: "php", Class: ClassInterpreted,
		Extensions: []string{".php"},
		Template:   "<?php\necho \"Hello, World!\\n\";\n",
		grammar:    php.GetLanguage,
	},
	{
		Tag: "bash", Name: "Bash", Icon: "terminal", Class: ClassInterpreted,
		Extensions: []string{".sh", ".bash"}, Aliases: []string{"sh", "shell"},
		Template: "#!/usr/bin/env bash\necho \"Hello, World!\"\n",
		grammar:  bash.GetLanguage,
	},
	{
		Tag: "go", Name: "Go", Icon: "go", Class: ClassCompiled,
		Extensions: []string{".go"}, Aliases: []string{"golang"},
		Template: "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"Hello, World!\")\n}\n",
		grammar:  golang.GetLanguage,
	},
	{
		Tag: "rust", Name: "Rust", Icon: "rust", Class: ClassCompiled,
		Extensions: []string{".rs"}, Aliases: []string{"rs"},
		Template: "fn main() {\n    println!(\"Hello, World!\");\n}\n",
		grammar:  rust.GetLanguage,
	},
	{
		Tag: "c", Name: "C", Icon: "c", Class: ClassCompiled,
		Extensions: []string{".c", ".h"},
		Template:   "#include <stdio.h>\n\nint main(void) {\n    printf(\"Hello, World!\\n\");\n    return 0;\n}\n",
		grammar:    c.GetLanguage,
	},
	{
		Tag: "java", Name: "Java", Icon: "java", Class: ClassCompiled, nonExecutable: true,
		Extensions: []string{".java"},
		Template:   "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello, World!\");\n    }\n}\n",
		grammar:    java.GetLanguage,
	},
	{
		Tag: "cpp", Name: "C++", Icon: "cplusplus", Class: ClassCompiled, nonExecutable: true,
		Extensions: []string{".cpp", ".cc", ".cxx", ".hpp"}, Aliases: []string{"c++", "cplusplus"},
		Template: "#include <iostream>\n\nint main() {\n    std::cout << \"Hello, World!\" << std::endl;\n    return 0;\n}\n",
		grammar:  cpp.GetLanguage,
	},
	{
		Tag: "csharp", Name: "C#", Icon: "csharp", Class: ClassCompiled, nonExecutable: true,
		Extensions: []string{".cs"}, Aliases: []string{"c#", "cs"},
		Template: "using System;\n\nclass Program {\n    static void Main() {\n        Console.WriteLine(\"Hello, World!\");\n    }\n}\n",
		grammar:  csharp.GetLanguage,
	},
	{
		Tag: "swift", Name: "Swift", Icon: "swift", Class: ClassCompiled, nonExecutable: true,
		Extensions: []string{".swift"},
		Template:   "print(\"Hello, World!\")\n",
		grammar:    swift.GetLanguage,
	},
	{
		Tag: "kotlin", Name: "Kotlin", Icon: "kotlin", Class: ClassCompiled, nonExecutable: true,
		Extensions: []string{".kt", ".kts"}, Aliases: []string{"kt"},
		Template: "fun main() {\n    println(\"Hello, World!\")\n}\n",
		grammar:  kotlin.GetLanguage,
	},
	{
		Tag: "markdown", Name: "Markdown", Icon: "markdown", Class: ClassMarkup,
		Extensions: []string{".md", ".markdown"}, Aliases: []string{"md"},
		Template: "# Title\n\nWrite **Markdown** here and press Run to render it.\n",
	},
	{
		Tag: "json", Name: "JSON", Icon: "braces", Class: ClassData,
		Extensions: []string{".json"},
		Template:   "{\n  \"hello\": \"world\"\n}\n",
	},
	{
		Tag: "text", Name: "Plain text", Icon: "file-text", Class: ClassData,
		Extensions: []string{".txt"}, Aliases: []string{"plaintext", "txt"},
	},
}
