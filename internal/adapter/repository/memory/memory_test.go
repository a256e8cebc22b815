package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vadimbarashkov/shortly/internal/entity"
)

type URLRepositoryTestSuite struct {
	suite.Suite
	now  time.Time
	repo *URLRepository
}

func (suite *URLRepositoryTestSuite) SetupSuite() {
	suite.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *URLRepositoryTestSuite) SetupSubTest() {
	suite.repo = NewURLRepository()
}

func (suite *URLRepositoryTestSuite) save(code string, createdAt time.Time, expiresAt *time.Time) *entity.URL {
	url, err := suite.repo.Save(context.Background(), &entity.URL{
		OriginalURL: "https://example.com/" + code,
		ShortCode:   code,
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
	})
	suite.Require().NoError(err)
	return url
}

func (suite *URLRepositoryTestSuite) TestSave() {
	suite.Run("short code exists", func() {
		suite.save("abc1", suite.now, nil)

		url, err := suite.repo.Save(context.Background(), &entity.URL{
			OriginalURL: "https://other.com",
			ShortCode:   "abc1",
		})

		suite.ErrorIs(err, entity.ErrShortCodeExists)
		suite.Nil(url)
	})

	suite.Run("success", func() {
		first := suite.save("abc1", suite.now, nil)
		second := suite.save("abc2", suite.now, nil)

		suite.Equal(int64(1), first.ID)
		suite.Equal(int64(2), second.ID)
		suite.Zero(first.Clicks)
	})
}

func (suite *URLRepositoryTestSuite) TestRetrieveActiveByShortCode() {
	suite.Run("url not found", func() {
		url, err := suite.repo.RetrieveActiveByShortCode(context.Background(), "nope", suite.now)

		suite.ErrorIs(err, entity.ErrURLNotFound)
		suite.Nil(url)
	})

	suite.Run("expired url", func() {
		past := suite.now.Add(-time.Second)
		suite.save("old1", suite.now.Add(-time.Hour), &past)

		url, err := suite.repo.RetrieveActiveByShortCode(context.Background(), "old1", suite.now)
		suite.ErrorIs(err, entity.ErrURLNotFound)
		suite.Nil(url)

		raw, err := suite.repo.RetrieveByShortCode(context.Background(), "old1")
		suite.NoError(err)
		suite.Equal("old1", raw.ShortCode)
	})

	suite.Run("live url", func() {
		future := suite.now.Add(time.Hour)
		suite.save("new1", suite.now, &future)

		url, err := suite.repo.RetrieveActiveByShortCode(context.Background(), "new1", suite.now)

		suite.NoError(err)
		suite.Equal("https://example.com/new1", url.OriginalURL)
	})
}

func (suite *URLRepositoryTestSuite) TestIncrementClicks() {
	suite.Run("url not found", func() {
		n, err := suite.repo.IncrementClicks(context.Background(), "nope", 1)

		suite.NoError(err)
		suite.Zero(n)
	})

	suite.Run("code registered again", func() {
		old := suite.save("promo", suite.now, nil)
		_, err := suite.repo.Remove(context.Background(), "promo")
		suite.Require().NoError(err)
		fresh := suite.save("promo", suite.now, nil)

		n, err := suite.repo.IncrementClicks(context.Background(), "promo", old.ID)
		suite.NoError(err)
		suite.Zero(n)

		n, err = suite.repo.IncrementClicks(context.Background(), "promo", fresh.ID)
		suite.NoError(err)
		suite.Equal(int64(1), n)
	})

	suite.Run("concurrent increments", func() {
		hot := suite.save("hot1", suite.now, nil)

		const workers = 100

		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_, _ = suite.repo.IncrementClicks(context.Background(), "hot1", hot.ID)
			}()
		}
		wg.Wait()

		url, err := suite.repo.RetrieveByShortCode(context.Background(), "hot1")
		suite.NoError(err)
		suite.Equal(int64(workers), url.Clicks)
	})
}

func (suite *URLRepositoryTestSuite) TestRetrieveAll() {
	suite.Run("newest first", func() {
		suite.save("aaa", suite.now.Add(-2*time.Hour), nil)
		suite.save("bbb", suite.now, nil)
		suite.save("ccc", suite.now.Add(-time.Hour), nil)

		urls, err := suite.repo.RetrieveAll(context.Background())

		suite.NoError(err)
		suite.Len(urls, 3)
		suite.Equal("bbb", urls[0].ShortCode)
		suite.Equal("ccc", urls[1].ShortCode)
		suite.Equal("aaa", urls[2].ShortCode)
	})
}

func (suite *URLRepositoryTestSuite) TestRemove() {
	suite.Run("idempotent", func() {
		suite.save("abc1", suite.now, nil)

		deleted, err := suite.repo.Remove(context.Background(), "abc1")
		suite.NoError(err)
		suite.True(deleted)

		deleted, err = suite.repo.Remove(context.Background(), "abc1")
		suite.NoError(err)
		suite.False(deleted)

		deleted, err = suite.repo.Remove(context.Background(), "never")
		suite.NoError(err)
		suite.False(deleted)
	})
}

func (suite *URLRepositoryTestSuite) TestAggregates() {
	suite.Run("window and ordering", func() {
		old := suite.save("old", suite.now.Add(-48*time.Hour), nil)
		aaa := suite.save("aaa", suite.now, nil)
		bbb := suite.save("bbb", suite.now, nil)

		for i := 0; i < 3; i++ {
			_, _ = suite.repo.IncrementClicks(context.Background(), "bbb", bbb.ID)
		}
		_, _ = suite.repo.IncrementClicks(context.Background(), "aaa", aaa.ID)
		_, _ = suite.repo.IncrementClicks(context.Background(), "old", old.ID)

		since := suite.now.Add(-24 * time.Hour)

		stats, err := suite.repo.AggregateStats(context.Background(), since)
		suite.NoError(err)
		suite.Equal(int64(2), stats.TotalURLs)
		suite.Equal(int64(4), stats.TotalClicks)
		suite.InDelta(2.0, stats.AvgClicks, 0.001)

		top, err := suite.repo.RetrieveTop(context.Background(), since, 1)
		suite.NoError(err)
		suite.Len(top, 1)
		suite.Equal("bbb", top[0].ShortCode)
	})

	suite.Run("empty window", func() {
		stats, err := suite.repo.AggregateStats(context.Background(), suite.now)

		suite.NoError(err)
		suite.Zero(stats.TotalURLs)
		suite.Zero(stats.AvgClicks)
	})
}

func (suite *URLRepositoryTestSuite) TestClicksOverTime() {
	click := func(url *entity.URL, times int) {
		for i := 0; i < times; i++ {
			_, _ = suite.repo.IncrementClicks(context.Background(), url.ShortCode, url.ID)
		}
	}

	suite.Run("hour of day", func() {
		click(suite.save("h091", time.Date(2024, 5, 1, 9, 5, 0, 0, time.UTC), nil), 2)
		click(suite.save("h092", time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC), nil), 3)
		click(suite.save("h110", time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), nil), 1)
		suite.save("h101", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC), nil)
		click(suite.save("late", time.Date(2024, 4, 29, 9, 0, 0, 0, time.UTC), nil), 7)

		points, err := suite.repo.ClicksOverTime(context.Background(), suite.now.Add(-24*time.Hour), entity.BucketHour)

		suite.NoError(err)
		suite.Equal([]entity.ClicksPoint{
			{Period: "09", Clicks: 5},
			{Period: "10", Clicks: 0},
			{Period: "11", Clicks: 1},
		}, points)
	})

	suite.Run("date", func() {
		click(suite.save("d301", time.Date(2024, 4, 30, 23, 59, 0, 0, time.UTC), nil), 4)
		click(suite.save("d011", time.Date(2024, 5, 1, 0, 1, 0, 0, time.UTC), nil), 1)
		click(suite.save("d012", time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), nil), 2)
		click(suite.save("d201", time.Date(2024, 4, 20, 8, 0, 0, 0, time.UTC), nil), 9)

		points, err := suite.repo.ClicksOverTime(context.Background(), suite.now.Add(-7*24*time.Hour), entity.BucketDay)

		suite.NoError(err)
		suite.Equal([]entity.ClicksPoint{
			{Period: "2024-04-30", Clicks: 4},
			{Period: "2024-05-01", Clicks: 3},
		}, points)
	})

	suite.Run("empty window", func() {
		points, err := suite.repo.ClicksOverTime(context.Background(), suite.now, entity.BucketDay)

		suite.NoError(err)
		suite.Empty(points)
	})
}

func TestURLRepository(t *testing.T) {
	suite.Run(t, new(URLRepositoryTestSuite))
}
