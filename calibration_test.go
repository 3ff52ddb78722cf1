package scenebag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/lherman-cs/scenebag/rosbag"
)

func TestBuildCameraCalibration(t *testing.T) {
	intrinsic := [][]float64{
		{1266.417203046554, 0, 816.2670197447984},
		{0, 1266.417203046554, 491.50706579294757},
		{0, 0, 1},
	}

	calib, err := BuildCameraCalibration("CAM_FRONT", 1600, 900, intrinsic, 1532402927612460000)
	require.NoError(t, err)

	if diff := cmp.Diff(&CameraCalibration{
		Timestamp:       1532402927612460000,
		FrameID:         "CAM_FRONT",
		Width:           1600,
		Height:          900,
		DistortionModel: "plumb_bob",
		D:               []float64{0, 0, 0, 0, 0},
		K:               [9]float64{1266.417203046554, 0, 816.2670197447984, 0, 1266.417203046554, 491.50706579294757, 0, 0, 1},
		R:               [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		P:               [12]float64{1266.417203046554, 0, 816.2670197447984, 0, 0, 1266.417203046554, 491.50706579294757, 0, 0, 0, 1, 0},
	}, calib); diff != "" {
		t.Fatal(diff)
	}
}

func TestProjectionEmbedsIntrinsics(t *testing.T) {
	f := fuzz.New()
	for i := 0; i < 200; i++ {
		var rows [3][3]float64
		f.Fuzz(&rows)
		intrinsic := [][]float64{rows[0][:], rows[1][:], rows[2][:]}

		calib, err := BuildCameraCalibration("CAM_BACK", 1600, 900, intrinsic, 0)
		require.NoError(t, err)

		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				require.Equal(t, calib.K[r*3+c], calib.P[r*4+c])
				require.Equal(t, rows[r][c], calib.K[r*3+c])
			}
			require.Zero(t, calib.P[r*4+3])
		}
	}
}

func TestBuildCameraCalibrationInvalid(t *testing.T) {
	testCases := []struct {
		Name      string
		Width     int
		Height    int
		Intrinsic [][]float64
	}{
		{Name: "Two Rows", Width: 1, Height: 1, Intrinsic: [][]float64{{1, 0, 0}, {0, 1, 0}}},
		{Name: "Short Row", Width: 1, Height: 1, Intrinsic: [][]float64{{1, 0, 0}, {0, 1}, {0, 0, 1}}},
		{Name: "Four Columns", Width: 1, Height: 1, Intrinsic: [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}},
		{Name: "Empty", Width: 1, Height: 1},
		{Name: "Zero Width", Width: 0, Height: 1, Intrinsic: [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			_, err := BuildCameraCalibration("CAM_FRONT", testCase.Width, testCase.Height, testCase.Intrinsic, 0)
			require.ErrorIs(t, err, ErrInvalidIntrinsics)
		})
	}
}

func TestCameraCalibrationMarshal(t *testing.T) {
	calib, err := BuildCameraCalibration("CAM_FRONT", 1600, 900, [][]float64{{2, 0, 3}, {0, 2, 4}, {0, 0, 1}}, 2_000_000_001)
	require.NoError(t, err)

	decoded := roundTrip(t, calib)
	require.Equal(t, rosbag.Time{Sec: 2, Nsec: 1}, decoded["timestamp"])
	require.Equal(t, "CAM_FRONT", decoded["frame_id"])
	require.Equal(t, uint32(1600), decoded["width"])
	require.Equal(t, uint32(900), decoded["height"])
	require.Equal(t, "plumb_bob", decoded["distortion_model"])
	require.Equal(t, []float64{0, 0, 0, 0, 0}, decoded["D"])
	require.Equal(t, calib.K[:], decoded["K"])
	require.Equal(t, calib.R[:], decoded["R"])
	require.Equal(t, calib.P[:], decoded["P"])
}
