// Package drapto encodes files with the Drapto Go library and translates its
// reporter callbacks into services.Reporter updates.
package drapto
