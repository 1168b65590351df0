package admin

import (
	"context"
	"math"
	"testing"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/BearBump/DispatchBox/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

func TestOptionalNumber(t *testing.T) {
	for _, tc := range []struct {
		field string
		in    any
		want  any
	}{
		{"pallets", nil, nil},
		{"pallets", "", nil},
		{"pallets", "0", nil},
		{"pallets", float64(0), nil},
		{"pallets", false, nil},
		{"pallets", float64(12), int64(12)},
		{"pallets", " 7 ", int64(7)},
		{"weights", "12.5", 12.5},
		{"weights", float64(3), float64(3)},
	} {
		got, err := optionalNumber(tc.field, tc.in)
		require.NoError(t, err, "%v", tc.in)
		require.Equal(t, tc.want, got, "%v", tc.in)
	}

	for _, tc := range []struct {
		field string
		in    any
	}{
		{"pallets", "2.5"},
		{"pallets", float64(-4)},
		{"pallets", "-1"},
		{"pallets", float64(math.MaxInt32) + 1},
		{"pallets", "abc"},
		{"weights", "NaN"},
		{"weights", "Inf"},
		{"weights", "-Infinity"},
		{"weights", "-2.5"},
		{"weights", float64(-0.1)},
	} {
		_, err := optionalNumber(tc.field, tc.in)
		require.EqualError(t, err, "Invalid "+tc.field, "%v", tc.in)
	}

	got, err := optionalNumber("pallets", float64(math.MaxInt32))
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt32), got)
}

func TestService_AgainstMemstore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	svc := New(store, store)

	userID, err := svc.CreateDriver(ctx, models.DriverCreateInput{FullName: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	require.True(t, store.CheckPassword("ann@example.com", DefaultDriverPassword))

	_, err = svc.CreateDriver(ctx, models.DriverCreateInput{FullName: "Ann 2", Email: "ann@example.com"})
	require.ErrorIs(t, err, memstore.ErrUserExists)

	drivers, err := svc.ListDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	driverID := drivers[0].ID

	rows, err := store.List(ctx, gateway.TableDrivers, gateway.Query{})
	require.NoError(t, err)
	require.Equal(t, userID, rows[0]["auth_user_id"])

	row, err := svc.CreateLoad(ctx, models.LoadCreateInput{
		LoadNumber: "L-100", PickupLocation: "Austin", PickupDatetime: "2024-05-01",
		DeliveryLocation: "Dallas", DeliveryDatetime: "2024-05-02", DriverID: &driverID,
	})
	require.NoError(t, err)
	loadID := gateway.KeyOf(gateway.TableLoads, row)
	require.Equal(t, "Pending", row["status"])

	l, err := svc.SetLoadStatus(ctx, loadID, "Assigned")
	require.NoError(t, err)
	require.Equal(t, models.LoadStatusAssigned, l.Status)

	l, err = svc.SetLoadStatus(ctx, loadID, "In Transit")
	require.NoError(t, err)

	_, err = svc.SetLoadStatus(ctx, loadID, "Assigned")
	require.ErrorIs(t, err, models.ErrIllegalTransition)

	l, err = svc.UnassignDriver(ctx, loadID)
	require.NoError(t, err)
	require.Nil(t, l.DriverID)
	require.Equal(t, models.LoadStatusInTransit, l.Status)

	l, err = svc.AssignDriver(ctx, loadID, driverID)
	require.NoError(t, err)
	require.Equal(t, models.LoadStatusPending, l.Status)

	stop, err := store.Insert(ctx, gateway.TableStopRequests, gateway.Row{"driver_id": driverID, "load_id": loadID})
	require.NoError(t, err)
	stopID := gateway.KeyOf(gateway.TableStopRequests, stop)

	req, err := svc.ApproveStopRequest(ctx, stopID)
	require.NoError(t, err)
	require.True(t, req.Approved)

	req, err = svc.ApproveStopRequest(ctx, stopID)
	require.NoError(t, err)
	require.True(t, req.Approved)

	require.NoError(t, svc.DeleteDriver(ctx, driverID))
	loads, err := store.List(ctx, gateway.TableLoads, gateway.Query{})
	require.NoError(t, err)
	require.Nil(t, loads[0]["driver_id"])

	require.NoError(t, svc.DeleteLoad(ctx, loadID))
	_, err = svc.SetLoadStatus(ctx, loadID, "Pending")
	require.ErrorIs(t, err, gateway.ErrNotFound)
}
