// Package makemkv drives makemkvcon in robot mode to scan discs and back up
// individual titles.
//
// Robot output is parsed line by line: TINFO/SINFO/CINFO build the title
// list, PRGV/PRGT/PRGC feed progress to a services.Reporter, and MSG codes in
// the 2000 range abort the operation with services.ErrExternalTool.
package makemkv
