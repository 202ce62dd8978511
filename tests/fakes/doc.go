// Package fakes provides test doubles for the external clients mediavault
// talks to: AWS Secrets Manager, SSM Parameter Store, STS, and the S3 client
// factory, plus an in-memory secret store.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior, including call counting and blocking, which the
// coalescing tests rely on.
//
// Usage:
//
//	sm := fakes.NewFakeSecretsManagerClient()
//	sm.AddSecretString("media/db", `{"username":"u","password":"p","host":"h"}`)
//	store, _ := providers.NewAWSSecretsManagerStore(ctx, providers.AWSOptions{},
//	    providers.WithSecretsManagerClient(sm))
//	// ...
//	assert.Equal(t, 1, sm.Calls())
package fakes
