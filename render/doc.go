// Package render draws coach artifacts to files: charts from datasets as PNG
// images and process maps / fishbone diagrams as Graphviz DOT sources.
package render
