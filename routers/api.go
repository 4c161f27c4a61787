package routers

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"
	"time"

	"tripledgerapi/controllers"
	"tripledgerapi/middlewares"
	"tripledgerapi/offline"
	"tripledgerapi/scanner"
	"tripledgerapi/storage"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
)

func Route() *gin.Engine {
	router := gin.Default()
	router.Use(CORS())
	api := controllers.NewAPI()

	api.Db = newDB(nil)
	api.Db.SetConnMaxLifetime(5 * time.Minute)
	redisHost := os.Getenv("REDIS_HOST")
	redisPort := os.Getenv("REDIS_PORT")

	api.Redis = redis.NewClient(&redis.Options{
		Addr: redisHost + ":" + redisPort,
		DB:   0,
	})

	maxAttempts, _ := strconv.Atoi(os.Getenv("SYNC_MAX_ATTEMPTS"))
	api.Queue = offline.NewQueue(api.Redis, maxAttempts)

	// scanning stays disabled without a key; the endpoint reports
	// missing-api-key instead of the server refusing to boot
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		analyzer, err := scanner.NewGeminiAnalyzer(context.Background(), apiKey, nil)
		if err != nil {
			log.Println("receipt scanning disabled:", err)
		} else {
			api.Analyzer = analyzer
		}
	} else {
		log.Println("GEMINI_API_KEY not set, receipt scanning disabled")
	}

	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		useSSL, _ := strconv.ParseBool(os.Getenv("S3_USE_SSL"))
		bucket := os.Getenv("S3_BUCKET")
		if bucket == "" {
			bucket = "receipts"
		}

		store, err := storage.NewMinioStore(endpoint,
			os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"), bucket, useSSL)
		if err != nil {
			log.Println("receipt storage disabled:", err)
		} else {
			api.Receipts = store
		}
	} else {
		log.Println("S3_ENDPOINT not set, receipt storage disabled")
	}

	router.GET("/api/health", api.GetHealth)
	router.POST("/api/login", api.Authenticate)
	router.POST("/api/register", api.Register)
	router.GET("/api/check-session", middlewares.Auth(api.Redis), api.CheckSession)
	router.GET("/api/refresh-session", middlewares.Auth(api.Redis), api.RefreshSession)
	router.GET("/api/logout", middlewares.Auth(api.Redis), api.Logout)
	router.POST("/api/forgot-password", api.ForgotPassword)
	router.GET("/api/verify-token/:token", api.VerifyTokenReset)
	router.POST("/api/reset-password/:token", api.UpdateUserReset)

	users := router.Group("/api/users")
	users.Use(middlewares.Auth(api.Redis))
	{
		users.GET("", api.GetUser)
		users.PUT("", api.UpdateUser)
	}

	trips := router.Group("/api/trips")
	trips.Use(middlewares.Auth(api.Redis))
	{
		trips.GET("", api.GetTrips)
		// batch upsert/delete
		trips.POST("", api.UpsertTrips)
		trips.DELETE("", api.DeleteTrips)
		trips.POST("/recalculate", api.RecalculateTotals)
		trips.GET("/:id/export", api.ExportTripArchive)
		trips.GET("/:id/report", api.ExportTripReport)
	}

	expenses := router.Group("/api/expenses")
	expenses.Use(middlewares.Auth(api.Redis))
	{
		expenses.GET("", api.GetExpenses)
		expenses.GET("/report", api.GetExpensesReport)
		// multipart: "data" JSON part plus optional "receipt" image
		expenses.POST("", api.CreateExpense)
		expenses.POST("/scan", api.ScanReceipt)
		expenses.PUT("/:id", api.UpdateExpense)
		expenses.DELETE("", api.DeleteExpenses)
	}

	sync := router.Group("/api/sync")
	sync.Use(middlewares.Auth(api.Redis))
	{
		sync.GET("", api.GetSyncStatus)
		sync.POST("/actions", api.QueueAction)
		sync.POST("/drain", api.DrainActions)
	}

	return router
}

// CORS Cross Origin Resource Sharing
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, "+
			"Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func newDB(indb *sql.DB) *sql.DB {
	if indb != nil {
		return indb
	}
	connString := os.Getenv("DB_CONNECTION_STRING")
	if connString == "" {
		log.Fatal("Please provide DB_CONNECTION_STRING environment variable")
	}

	var err error
	conn, err := sql.Open("postgres", connString)
	if err != nil {
		log.Fatalf("Cannot connect to db with connection %s: %v", connString, err)
	}

	err = conn.Ping()
	if err != nil {
		log.Fatal(err)
	}

	return conn
}
