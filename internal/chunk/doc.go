// Package chunk runs knitr chunks in a kernel.
//
// A chunk arrives as a JSON object of knitr options. The Runner prepares
// the kernel (working directory, matplotlib backend), executes the code,
// classifies the kernel's broadcasts into stdout, stderr and the textual
// result, saves any figures the code produced and writes one Result.
// Results may be cached on disk or in redis when the chunk asks for it.
package chunk
