package stubjit

import (
	"context"
	"fmt"
	"log"
)

// This is an example of how to compile a method described in YAML.
func Example() {
	m, err := LoadMethod([]byte(`
name: answer
max_locals: 0
max_stack: 1
code: |
  ldc 1
  ireturn
constants:
  - int: 42
`))
	if err != nil {
		log.Fatal(err)
	}

	code, err := Compile(context.Background(), NewCompilerConfig(), m)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s: %d bytes\n%x\n", code.Name, code.CodeSize, code.Code())

	// Output:
	// answer: 10 bytes
	// 00b581b02a2001b000bd
}
