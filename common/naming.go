package common

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

//go:generate go run github.com/dmarkham/enumer -json -type Constellation

// Constellation defines the kind of satellites
type Constellation int

const (
	Unknown   Constellation = iota
	Sentinel1               // MMM_BB_TTTR_LFPP_YYYYMMDDTHHMMSS_YYYMMDDTHHMMSS_OOOOOO_DDDDDD_CCCC.SAFE
	Sentinel2               // MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<Product Discriminator>.SAFE
	Landsat89               // LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX
)

// GetConstellationFromString returns the constellation from the user input (constellation or collection name)
func GetConstellationFromString(input string) Constellation {
	switch s := strings.ToLower(input); {
	case s == "sentinel1" || strings.HasPrefix(s, "sentinel-1"):
		return Sentinel1
	case s == "sentinel2" || strings.HasPrefix(s, "sentinel-2"):
		return Sentinel2
	case s == "landsat89" || strings.HasPrefix(s, "landsat"):
		return Landsat89
	}
	return GetConstellationFromProductId(input)
}

var landsatRe = regexp.MustCompile("^L[OTC]0[89]")

func GetConstellationFromProductId(sceneName string) Constellation {
	if strings.HasPrefix(sceneName, "S1") {
		return Sentinel1
	}
	if strings.HasPrefix(sceneName, "S2") {
		return Sentinel2
	}
	if landsatRe.MatchString(sceneName) {
		return Landsat89
	}
	return Unknown
}

func GetDateFromProductId(sceneName string) (time.Time, error) {
	format, err := Info(sceneName)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse("20060102", format["DATE"])
}

// Info extracts the fields of a product identifier
func Info(sceneName string) (map[string]string, error) {
	switch GetConstellationFromProductId(sceneName) {
	case Sentinel1:
		if len(sceneName) < len("MMM_BB_TTTR_LFPP_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_OOOOOO_DDDDDD_CCCC") {
			return nil, fmt.Errorf("invalid Sentinel1 file name: %s", sceneName)
		}
		return map[string]string{
			"SCENE":            sceneName,
			"MISSION_ID":       sceneName[0:3],
			"MISSION_VERSION":  sceneName[2:3],
			"MODE":             sceneName[4:6],
			"PRODUCT_TYPE":     sceneName[7:10],
			"PROCESSING_LEVEL": sceneName[12:13],
			"POLARISATION":     sceneName[14:16],
			"DATE":             sceneName[17:25],
			"YEAR":             sceneName[17:21],
			"MONTH":            sceneName[21:23],
			"DAY":              sceneName[23:25],
			"TIME":             sceneName[26:32],
			"ORBIT":            sceneName[49:55],
		}, nil
	case Sentinel2:
		if len(sceneName) < len("MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<Product Disc.>") || sceneName[10] != '_' {
			return nil, fmt.Errorf("invalid Sentinel2 file name: %s", sceneName)
		}
		return map[string]string{
			"SCENE":         sceneName,
			"MISSION_ID":    sceneName[0:3],
			"PRODUCT_LEVEL": sceneName[7:10],
			"DATE":          sceneName[11:19],
			"YEAR":          sceneName[11:15],
			"MONTH":         sceneName[15:17],
			"DAY":           sceneName[17:19],
			"TIME":          sceneName[20:26],
			"PDGS":          sceneName[28:32],
			"ORBIT":         sceneName[34:37],
			"TILE":          sceneName[38:44],
		}, nil
	case Landsat89:
		// LC09_L1GT_166003_20250603_20250603_02_T2
		if len(sceneName) < len("LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX") {
			return nil, fmt.Errorf("invalid Landsat8/9 file name: %s", sceneName)
		}
		return map[string]string{
			"SCENE":         sceneName,
			"MISSION_ID":    sceneName[0:1] + sceneName[2:4],
			"PRODUCT_LEVEL": sceneName[5:9],
			"DATE":          sceneName[17:25],
			"YEAR":          sceneName[17:21],
			"MONTH":         sceneName[21:23],
			"DAY":           sceneName[23:25],
			"PATH":          sceneName[10:13],
			"ROW":           sceneName[13:16],
			"TILE":          sceneName[10:16],
		}, nil
	}
	return nil, fmt.Errorf("Info: constellation not supported: %s", sceneName)
}

// FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}

var (
	// BandCodePattern matches the fixed-width band codes of the Sentinel-2 products (SAFE and CDSE naming)
	BandCodePattern = regexp.MustCompile(`(?:^|[_\-.])(B\d{2}|B8A|TCI|WVP|SCL|AOT)(?:[_\-.]|$)`)
	// AssetNamePattern matches the files written by the asset downloaders: <collection>_<band>_<item>
	AssetNamePattern = regexp.MustCompile(`^[^_]+_([A-Za-z][A-Za-z0-9]*)_.+`)
	// PolarisationPattern matches the measurement files of the Sentinel-1 products (ASF): the polarisation is
	// the 4th "-"-separated field (s1a-iw-grd-vv-...)
	PolarisationPattern = regexp.MustCompile(`^[^-_]+-[^-_]+-[^-_]+-([a-z]{2})-`)

	// DefaultBandPatterns are tried in this order by BandName
	DefaultBandPatterns = []*regexp.Regexp{BandCodePattern, AssetNamePattern, PolarisationPattern}

	dateTokenRe = regexp.MustCompile(`\d{8}`)
)

// BandName extracts the band identity from the name of the file, using the first matching pattern.
// The band is the first capturing group of the pattern. Returns "" if no pattern matches.
func BandName(file string, patterns ...*regexp.Regexp) string {
	if len(patterns) == 0 {
		patterns = DefaultBandPatterns
	}
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	for _, re := range patterns {
		if m := re.FindStringSubmatch(name); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// AcquisitionDate returns the first valid YYYYMMDD token found in the name of the file (UTC)
func AcquisitionDate(file string) (time.Time, bool) {
	for _, token := range dateTokenRe.FindAllString(filepath.Base(file), -1) {
		if t, err := time.Parse("20060102", token); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AssetFileName returns the name of the file of a downloaded asset: <collection>_<band>_<item><ext>.
// The acquisition date is appended if the item identifier does not carry one.
func AssetFileName(collection, band, itemID string, date time.Time, ext string) string {
	collection = strings.ReplaceAll(collection, "_", "-")
	band = strings.NewReplacer("_", "", "-", "", ".", "").Replace(band)
	if _, ok := AcquisitionDate(itemID); !ok && !date.IsZero() {
		itemID += "_" + date.Format("20060102")
	}
	return fmt.Sprintf("%s_%s_%s%s", collection, band, itemID, ext)
}
