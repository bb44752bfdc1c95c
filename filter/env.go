package filter

/*
Here the Env used in the authorization expressions is defined.
Once this struct is fixed, it should not be changed, otherwise configured policies may not compile any more
(f.e. if properties are renamed etc.)
*/

type User struct {
	Id   string
	Nick string
}

type Room struct {
	Id       string
	Name     string
	OwnerId  string
	IsPublic bool
	MaxUsers int
	Tags     map[string]string
}

type Env struct {
	Room   Room
	User   User
	Action string

	AsInt         func(string) int64
	AsFloat       func(string) float64
	AsStringSlice func(string) []string
	AsIntSlice    func(string) []int64
	AsFloatSlice  func(string) []float64
}
