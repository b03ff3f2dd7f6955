package longmynd

import "sort"

type agcPoint struct {
	agc int
	dbm int
}

// AGC1 is used while the first stage is active; AGC2 otherwise.
var agc1Table = []agcPoint{
	{1, -70}, {10, -69}, {21800, -68}, {25100, -67}, {27100, -66}, {28100, -65},
	{28900, -64}, {29600, -63}, {30100, -62}, {30550, -61}, {31000, -60}, {31350, -59},
	{31700, -58}, {32050, -57}, {32400, -56}, {32700, -55}, {33000, -54}, {33300, -53},
	{33600, -52}, {33900, -51}, {34200, -50}, {34500, -49}, {34750, -48}, {35000, -47},
	{35250, -46}, {35500, -45}, {35750, -44}, {36000, -43}, {36200, -42}, {36400, -41},
	{36600, -40}, {36800, -39}, {37000, -38}, {37200, -37}, {37400, -36}, {37600, -35},
	{37700, -35},
}

var agc2Table = []agcPoint{
	{182, -71}, {200, -72}, {225, -73}, {255, -74}, {290, -75}, {325, -76},
	{360, -77}, {400, -78}, {450, -79}, {500, -80}, {560, -81}, {625, -82},
	{700, -83}, {780, -84}, {880, -85}, {1000, -86}, {1140, -87}, {1300, -88},
	{1480, -89}, {1660, -90}, {1840, -91}, {2020, -92}, {2200, -93}, {2380, -94},
	{2560, -95}, {2740, -96}, {3200, -97},
}

// powerLevel estimates input power in dBm from the two AGC readings.
func powerLevel(agc1, agc2 int) int {
	if agc1 > 0 {
		return nearest(agc1Table, agc1)
	}
	return nearest(agc2Table, agc2)
}

// nearest returns the dBm of the closest table key; ties go to the lower key.
func nearest(table []agcPoint, v int) int {
	i := sort.Search(len(table), func(i int) bool { return table[i].agc >= v })
	if i == 0 {
		return table[0].dbm
	}
	if i == len(table) {
		return table[len(table)-1].dbm
	}
	if v-table[i-1].agc <= table[i].agc-v {
		return table[i-1].dbm
	}
	return table[i].dbm
}
