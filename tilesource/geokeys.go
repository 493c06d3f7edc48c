package tilesource

import (
	"errors"
	"fmt"
)

var ErrInvalidGeoKeys = errors.New("invalid GeoKey directory")

// GeoTIFF tag numbers referenced from GeoKey directories.
const (
	geoDoubleParamsTag = 34736
	geoASCIIParamsTag  = 34737
)

// GTModelType values.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
	ModelTypeGeocentric = 3
)

// A GeoKey identifies an entry in a GeoKey directory.
type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyLinearUnits            GeoKey = 2052
	GeoKeyGeogLinearUnitSize     GeoKey = 2053
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyGeogAngularUnitSize    GeoKey = 2055
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidSemiMinorAxis GeoKey = 2058
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyAzimuthUnits           GeoKey = 2060
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS                                 GeoKey = 3072
	GeoKeyPCSCitation                                  GeoKey = 3073
	GeoKeyProjection                                   GeoKey = 3074
	GeoKeyProjMethod                                   GeoKey = 3075
	GeoKeyLinearUnits2                                 GeoKey = 3076
	GeoKeyProjectedLinearUnitSize                      GeoKey = 3077
	GeoKeyStandardParallel1GeoKeyProjAngularParameters GeoKey = 3078
	GeoKeyStandardParallel2GeoKeyProjAngularParameters GeoKey = 3079
	GeoKeyNaturalOriginLongitudeProjAngularParameters  GeoKey = 3080
	GeoKeyNaturalOriginLatitudeProjAngularParameters   GeoKey = 3081
	GeoKeyFalseEastingProjLinearParameters             GeoKey = 3082
	GeoKeyFalseNorthingProjLinearParameters            GeoKey = 3083
	GeoKeyFalseOriginLongitudeProjAngularParameters    GeoKey = 3084
	GeoKeyFalseOriginLatitudeProjAngularParameters     GeoKey = 3085
	GeoKeyFalseOriginEastingProjLinearParameters       GeoKey = 3086
	GeoKeyFalseOriginNorthingProjLinearParameters      GeoKey = 3087
	GeoKeyCenterLongitudeProjAngularParameters         GeoKey = 3088
	GeoKeyCenterLatitudeProjAngularParameters          GeoKey = 3089
	GeoKeyProjectionCenterEastingProjLinearParameters  GeoKey = 3090
	GeoKeyProjectionCenterNorthingProjLinearParameters GeoKey = 3091
	GeoKeyScaleAtNaturalOriginProjScalarParameters     GeoKey = 3092
	GeoKeyScaleAtCenterProjScalarParameters            GeoKey = 3093
	GeoKeyProjAzimuthAngle                             GeoKey = 3094
	GeoKeyStraightVerticalPoleProjAngularParameters    GeoKey = 3095

	GeoKeyVertical         GeoKey = 4096
	GeoKeyVerticalCitation GeoKey = 4097
	GeoKeyVerticalDatum    GeoKey = 4098
	GeoKeyVerticalUnits    GeoKey = 4099
)

// GeoKeys are the parsed contents of a GeoKey directory.
type GeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKey directory and its associated double and ASCII
// parameters.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*GeoKeys, error) {
	if len(directory) < 4 {
		return nil, fmt.Errorf("%w: short header", ErrInvalidGeoKeys)
	}
	version, revision, minorRevision, numberOfKeys := directory[0], directory[1], directory[2], int(directory[3])
	if version != 1 || revision != 1 || minorRevision > 1 {
		return nil, fmt.Errorf("%w: version %d.%d.%d", ErrInvalidGeoKeys, version, revision, minorRevision)
	}
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("%w: got %d entries, expected %d", ErrInvalidGeoKeys, len(directory), 4+4*numberOfKeys)
	}

	geoKeys := &GeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		entry := directory[4+4*i : 4+4*(i+1)]
		key, location, count, value := GeoKey(entry[0]), int(entry[1]), int(entry[2]), int(entry[3])
		switch location {
		case 0:
			if count != 1 {
				return nil, fmt.Errorf("%w: key %d: count %d", ErrInvalidGeoKeys, key, count)
			}
			geoKeys.Params[key] = value
		case geoDoubleParamsTag:
			if count != 1 {
				return nil, fmt.Errorf("key %d: %w", key, errors.ErrUnsupported)
			}
			if value >= len(doubleParams) {
				return nil, fmt.Errorf("%w: key %d: double index %d out of range", ErrInvalidGeoKeys, key, value)
			}
			geoKeys.DoubleParams[key] = doubleParams[value]
		case geoASCIIParamsTag:
			if value+count > len(asciiParams) {
				return nil, fmt.Errorf("%w: key %d: ASCII range %d+%d out of range", ErrInvalidGeoKeys, key, value, count)
			}
			geoKeys.ASCIIParams[key] = string(asciiParams[value : value+count])
		default:
			return nil, fmt.Errorf("key %d: location %d: %w", key, location, errors.ErrUnsupported)
		}
	}
	return geoKeys, nil
}

// ModelType returns the value of GeoKeyGTModelType, if present.
func (k *GeoKeys) ModelType() (int, bool) {
	modelType, ok := k.Params[GeoKeyGTModelType]
	return modelType, ok
}
