package longmynd

import "dvbrx/internal/source"

type modcode struct {
	name      string
	threshold float64
}

var dvbsModcodes = map[int]modcode{
	0: {"DVB-S 1/2", 1.7},
	1: {"DVB-S 2/3", 3.3},
	2: {"DVB-S 3/4", 4.2},
	3: {"DVB-S 5/6", 5.1},
	4: {"DVB-S 6/7", 5.5},
	5: {"DVB-S 7/8", 5.8},
}

var dvbs2Modcodes = map[int]modcode{
	1:  {"DVB-S2 QPSK 1/4", -2.3},
	2:  {"DVB-S2 QPSK 1/3", -1.2},
	3:  {"DVB-S2 QPSK 2/5", -0.3},
	4:  {"DVB-S2 QPSK 1/2", 1.0},
	5:  {"DVB-S2 QPSK 3/5", 2.3},
	6:  {"DVB-S2 QPSK 2/3", 3.1},
	7:  {"DVB-S2 QPSK 3/4", 4.1},
	8:  {"DVB-S2 QPSK 4/5", 4.7},
	9:  {"DVB-S2 QPSK 5/6", 5.2},
	10: {"DVB-S2 QPSK 8/9", 6.2},
	11: {"DVB-S2 QPSK 9/10", 6.5},
	12: {"DVB-S2 8PSK 3/5", 5.5},
	13: {"DVB-S2 8PSK 2/3", 6.6},
	14: {"DVB-S2 8PSK 3/4", 7.9},
	15: {"DVB-S2 8PSK 5/6", 9.4},
	16: {"DVB-S2 8PSK 8/9", 10.7},
	17: {"DVB-S2 8PSK 9/10", 11.0},
	18: {"DVB-S2 16APSK 2/3", 9.0},
	19: {"DVB-S2 16APSK 3/4", 10.2},
	20: {"DVB-S2 16APSK 4/5", 11.0},
	21: {"DVB-S2 16APSK 5/6", 11.6},
	22: {"DVB-S2 16APSK 8/9", 12.9},
	23: {"DVB-S2 16APSK 9/10", 13.2},
	24: {"DVB-S2 32APSK 3/4", 12.8},
	25: {"DVB-S2 32APSK 4/5", 13.7},
	26: {"DVB-S2 32APSK 5/6", 14.3},
	27: {"DVB-S2 32APSK 8/9", 15.7},
	28: {"DVB-S2 32APSK 9/10", 16.1},
}

// lookupModulation interprets a modcode for the reported standard.
func lookupModulation(standard source.Standard, code int) (source.Modulation, bool) {
	var table map[int]modcode
	switch standard {
	case source.StandardDVBS:
		table = dvbsModcodes
	case source.StandardDVBS2:
		table = dvbs2Modcodes
	default:
		return source.Modulation{}, false
	}
	mc, ok := table[code]
	if !ok {
		return source.Modulation{}, false
	}
	return source.Modulation{Name: mc.name, Threshold: mc.threshold, HasThreshold: true}, true
}
