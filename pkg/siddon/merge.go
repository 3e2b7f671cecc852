package siddon

// Merge appends to dst the ascending merge of three ascending sequences.
// On ties x comes before y and y before z. The appended length is
// len(x)+len(y)+len(z).
func Merge(x, y, z, dst []float64) []float64 {
	i, j, k := 0, 0, 0
	for i < len(x) || j < len(y) || k < len(z) {
		switch {
		case i < len(x) && (j >= len(y) || x[i] <= y[j]) && (k >= len(z) || x[i] <= z[k]):
			dst = append(dst, x[i])
			i++
		case j < len(y) && (k >= len(z) || y[j] <= z[k]):
			dst = append(dst, y[j])
			j++
		default:
			dst = append(dst, z[k])
			k++
		}
	}
	return dst
}
