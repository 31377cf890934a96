package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/luzrain/go-httpbridge"
)

// Load driver: pushes a large object to S3-compatible storage through the
// bridge and pulls it back down with a file sink, exercising the cached
// client path and the decode filter end to end.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Fatal("Error loading .env file")
	}

	client := httpbridge.NewClient()

	// Generate a file and get the digest (file name in this context)
	fileDigest := generateFile()

	// Generate a signed URL for PUT request (Upload)
	putURL := getSignedURL(fileDigest, "put")
	fmt.Println("PUT URL:", putURL)

	// Perform the PUT request (Upload)
	if err := putObject(client, putURL, fileDigest); err != nil {
		fmt.Println("Error uploading file:", err)
		return
	}
	fmt.Println("File uploaded successfully.")

	// Generate a signed URL for GET request (Download)
	getURL := getSignedURL(fileDigest, "get")
	fmt.Println("GET URL:", getURL)

	// Perform the GET request (Download)
	if err := getObject(client, getURL, fileDigest+"_downloaded"); err != nil {
		fmt.Println("Error downloading file:", err)
		return
	}
	fmt.Println("File downloaded successfully.")
}

func generateFile() string {
	GB := int64(1024 * 1024 * 1024) // 1GB
	alias := "1gb"

	fileDigest, err := genFakeFiles(".", GB, fmt.Sprintf("test_"+alias+"_"+strconv.Itoa(int(GB))+"_"+strconv.Itoa(int(time.Now().UnixNano()))))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	return fileDigest
}

func genFakeFiles(dir string, size int64, name string) (string, error) {
	filePath := filepath.Join(dir, name)
	file, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	_, err = io.CopyN(file, rand.Reader, size)
	return filePath, err
}

func getSignedURL(fileDigest, method string) string {
	var bucketName = os.Getenv("BUCKET_NAME")
	var accountId = os.Getenv("ACCOUNT_ID")
	var accessKeyId = os.Getenv("ACCESS_KEY_ID")
	var accessKeySecret = os.Getenv("ACCESS_KEY_SECRET")

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountId),
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyId, accessKeySecret, "")),
	)
	if err != nil {
		log.Fatal(err)
	}

	svc := s3.NewFromConfig(cfg)
	psClient := s3.NewPresignClient(svc)

	var presignedRequest *v4.PresignedHTTPRequest

	switch method {
	case "put":
		presignedRequest, err = psClient.PresignPutObject(context.TODO(), &s3.PutObjectInput{
			Bucket: &bucketName,
			Key:    &fileDigest,
		}, s3.WithPresignExpires(15*time.Minute)) // URL valid for 15 minutes

	case "get":
		presignedRequest, err = psClient.PresignGetObject(context.TODO(), &s3.GetObjectInput{
			Bucket: &bucketName,
			Key:    &fileDigest,
		}, s3.WithPresignExpires(15*time.Minute)) // URL valid for 15 minutes
	default:
		fmt.Printf("Unknown method: %s\n", method)
		return ""
	}

	if err != nil {
		fmt.Printf("Failed to sign request for %s: %v\n", method, err)
		return ""
	}

	return presignedRequest.URL
}

func putObject(client *httpbridge.Client, url string, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(context.Background(), &httpbridge.Request{
		Method: http.MethodPut,
		URL:    url,
		Header: header,
		Body:   file,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %d", resp.StatusCode)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func getObject(client *httpbridge.Client, url string, filePath string) error {
	resp, err := client.Get(context.Background(), url, &httpbridge.Options{
		SinkFile: filePath,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %d", resp.StatusCode)
	}

	// Drain through the tee so the sink receives the whole object.
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
