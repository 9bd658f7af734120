package version

// Names maps protocol versions to the store release players recognise. The
// protocol version lags the release and several releases share a protocol.
var Names = map[GameVersion]string{
	New(2022, 11, 1): "2022.12.8",
	New(2022, 11, 9): "2022.12.14",
	New(2022, 12, 2): "2023.2.28",
	New(2023, 1, 11): "2023.3.28s",
	New(2023, 3, 13): "2023.3.28a",
	New(2023, 4, 21): "2023.6.13",
	New(2023, 5, 20): "2023.7.11",
	New(2222, 0, 0):  "2222.0.0(mod)",
	New(2023, 10, 1): "2023.10.24",
}

// Label returns the release name for v, ignoring the revision, or the
// dotted protocol version when the release is unknown.
func Label(v GameVersion) string {
	year, month, day, _ := v.Parts()
	if name, ok := Names[New(year, month, day)]; ok {
		return name
	}
	return v.String()
}
