package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// Line is one OCR text line with its pixel box.
type Line struct {
	Text       string
	X          int
	Y          int
	Width      int
	Height     int
	Confidence float64
}

type lineKey struct {
	page, block, par, line int
}

// ParseTSV groups tesseract's word-level TSV rows into lines. Confidence is
// the mean word confidence scaled to [0,1].
func ParseTSV(out string) ([]Line, error) {
	rows := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(rows) == 0 || !strings.HasPrefix(rows[0], "level") {
		return nil, fmt.Errorf("tesseract tsv: missing header")
	}

	var (
		order []lineKey
		words = map[lineKey][]string{}
		boxes = map[lineKey]*Line{}
		confs = map[lineKey][]float64{}
	)
	for _, row := range rows[1:] {
		cols := strings.Split(row, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		nums := make([]int, 10)
		for i := 1; i <= 9; i++ {
			n, err := strconv.Atoi(cols[i])
			if err != nil {
				return nil, fmt.Errorf("tesseract tsv: column %d: %w", i, err)
			}
			nums[i] = n
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return nil, fmt.Errorf("tesseract tsv: confidence: %w", err)
		}

		key := lineKey{page: nums[1], block: nums[2], par: nums[3], line: nums[4]}
		left, top, width, height := nums[6], nums[7], nums[8], nums[9]
		box, ok := boxes[key]
		if !ok {
			order = append(order, key)
			boxes[key] = &Line{X: left, Y: top, Width: width, Height: height}
		} else {
			right := max(box.X+box.Width, left+width)
			bottom := max(box.Y+box.Height, top+height)
			box.X = min(box.X, left)
			box.Y = min(box.Y, top)
			box.Width = right - box.X
			box.Height = bottom - box.Y
		}
		words[key] = append(words[key], text)
		if conf >= 0 {
			confs[key] = append(confs[key], conf)
		}
	}

	lines := make([]Line, 0, len(order))
	for _, key := range order {
		line := *boxes[key]
		line.Text = strings.Join(words[key], " ")
		if c := confs[key]; len(c) > 0 {
			sum := 0.0
			for _, v := range c {
				sum += v
			}
			line.Confidence = sum / float64(len(c)) / 100
		}
		lines = append(lines, line)
	}
	return lines, nil
}
