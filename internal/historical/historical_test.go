package historical

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/objectstore"
)

func testFixtures() *fixtures.Registry {
	return fixtures.NewRegistry([]fixtures.Location{
		{
			Name:       "slac",
			BucketName: "slac-bucket",
			Cameras: []fixtures.Camera{
				{
					Name:   "ts8",
					Online: true,
					Channels: []fixtures.Channel{
						{Name: "monitor"},
					},
				},
			},
		},
	})
}

func TestBuildIsBusyUntilComplete(t *testing.T) {
	fake := objectstore.NewFake()
	reg := testFixtures()
	stores := objectstore.NewTestRegistry(map[string]objectstore.Client{"slac": fake})
	cache := New(reg, stores, zerolog.Nop())

	assert.True(t, cache.IsBusy())
	cache.Build(context.Background())
	assert.False(t, cache.IsBusy())
}

func TestYearsMonthsDaysFor(t *testing.T) {
	fake := objectstore.NewFake()
	fake.PutRaw("ts8/2024-01-15/monitor/000001/ts8_monitor_2024-01-15_000001.jpg", "h1", []byte("x"))
	fake.PutRaw("ts8/2024-01-16/monitor/000002/ts8_monitor_2024-01-16_000002.jpg", "h2", []byte("x"))
	fake.PutRaw("ts8/2023-11-02/monitor/000003/ts8_monitor_2023-11-02_000003.jpg", "h3", []byte("x"))

	reg := testFixtures()
	stores := objectstore.NewTestRegistry(map[string]objectstore.Client{"slac": fake})
	cache := New(reg, stores, zerolog.Nop())
	cache.Build(context.Background())

	years := cache.Years("slac", "ts8")
	assert.Equal(t, []string{"2023", "2024"}, years)

	months := cache.Months("slac", "ts8", "2024")
	assert.Equal(t, []int{1}, months)

	days := cache.DaysFor("slac", "ts8", "2024", 1)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-01-15", days[0].Day)
	assert.Equal(t, 1, days[0].MaxSeq)
	assert.Equal(t, "2024-01-16", days[1].Day)
	assert.Equal(t, 2, days[1].MaxSeq)
}

func TestEventsForOrdersDescendingBySeq(t *testing.T) {
	fake := objectstore.NewFake()
	fake.PutRaw("ts8/2024-01-15/monitor/000001/ts8_monitor_2024-01-15_000001.jpg", "h1", []byte("x"))
	fake.PutRaw("ts8/2024-01-15/monitor/000003/ts8_monitor_2024-01-15_000003.jpg", "h2", []byte("x"))

	reg := testFixtures()
	stores := objectstore.NewTestRegistry(map[string]objectstore.Client{"slac": fake})
	cache := New(reg, stores, zerolog.Nop())
	cache.Build(context.Background())

	events := cache.EventsFor("slac", "ts8", "2024-01-15", reg.Location("slac").Camera("ts8").Channels)
	require.Contains(t, events, "monitor")
	require.Len(t, events["monitor"], 2)
	assert.Equal(t, 3, events["monitor"][0].SeqNum)
	assert.Equal(t, 1, events["monitor"][1].SeqNum)
}

func TestMostRecentDayAndEvent(t *testing.T) {
	fake := objectstore.NewFake()
	fake.PutRaw("ts8/2024-01-15/monitor/000001/ts8_monitor_2024-01-15_000001.jpg", "h1", []byte("x"))
	fake.PutRaw("ts8/2024-02-20/monitor/000009/ts8_monitor_2024-02-20_000009.jpg", "h2", []byte("x"))

	reg := testFixtures()
	stores := objectstore.NewTestRegistry(map[string]objectstore.Client{"slac": fake})
	cache := New(reg, stores, zerolog.Nop())
	cache.Build(context.Background())

	day, ok := cache.MostRecentDay("slac", "ts8")
	require.True(t, ok)
	assert.Equal(t, "2024-02-20", day)

	ev, ok := cache.MostRecentEvent("slac", "ts8", "monitor")
	require.True(t, ok)
	assert.Equal(t, 9, ev.SeqNum)
}

func TestCalendarConsistencyWithEventsFor(t *testing.T) {
	fake := objectstore.NewFake()
	fake.PutRaw("ts8/2024-03-01/monitor/000001/ts8_monitor_2024-03-01_000001.jpg", "h1", []byte("x"))

	reg := testFixtures()
	stores := objectstore.NewTestRegistry(map[string]objectstore.Client{"slac": fake})
	cache := New(reg, stores, zerolog.Nop())
	cache.Build(context.Background())

	calendar := cache.CameraCalendar("slac", "ts8")
	days := calendar["2024"][3]
	require.Len(t, days, 1)

	events := cache.EventsFor("slac", "ts8", days[0].Day, reg.Location("slac").Camera("ts8").Channels)
	assert.NotEmpty(t, events["monitor"])
}

func TestNightReportsFilteredByCameraAndDate(t *testing.T) {
	fake := objectstore.NewFake()
	fake.PutRaw("ts8/2024-01-15/night_report/summary/airmass.json", "h1", []byte("{}"))
	fake.PutRaw("ts8/2024-01-16/night_report/summary/airmass.json", "h2", []byte("{}"))

	reg := testFixtures()
	stores := objectstore.NewTestRegistry(map[string]objectstore.Client{"slac": fake})
	cache := New(reg, stores, zerolog.Nop())
	cache.Build(context.Background())

	reports := cache.NightReports("slac", "ts8", "2024-01-15")
	require.Len(t, reports, 1)
	assert.Equal(t, "summary", reports[0].Group)
}
